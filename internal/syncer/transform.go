package syncer

import (
	"context"
	"errors"
	"fmt"

	"catalogsync/internal/catalog"
	"catalogsync/internal/materializer"
	"catalogsync/internal/models"
	"catalogsync/internal/source"
)

type Transformation string

const (
	TransformNone    Transformation = "none"
	SimpleToVariable Transformation = "simple_to_variable"
	VariableToSimple Transformation = "variable_to_simple"
)

// CheckNeeded compares the local shape with the one the source implies.
func CheckNeeded(current models.ProductType, remote *source.Product) Transformation {
	wantVariable := remote.IsVariable()
	switch {
	case wantVariable && current != models.ProductTypeVariable:
		return SimpleToVariable
	case !wantVariable && current == models.ProductTypeVariable:
		return VariableToSimple
	}
	return TransformNone
}

// Transformer converts products between the simple and variable shapes.
type Transformer struct {
	store catalog.Store
	mat   *materializer.Materializer
}

func NewTransformer(store catalog.Store, mat *materializer.Materializer) *Transformer {
	return &Transformer{store: store, mat: mat}
}

// Apply converts product and returns it freshly read from the store.
func (t *Transformer) Apply(ctx context.Context, product *models.Product, remote *source.Product, kind Transformation, trail *materializer.Trail) (*models.Product, error) {
	if len(remote.Variants) == 0 {
		trail.Add("Cannot convert %s: source has no variants", kind)
		return nil, errors.New("source has no variants")
	}

	switch kind {
	case SimpleToVariable:
		trail.Add("Converting product %d to variable", product.ID)
		if _, err := t.store.DeleteVariations(ctx, product.ID); err != nil {
			return nil, err
		}
		if err := t.mat.SetupVariable(ctx, product, remote, trail); err != nil {
			return nil, err
		}
	case VariableToSimple:
		if n := len(remote.Variants); n != 1 {
			trail.Add("Cannot convert to simple: source has %d variants", n)
			return nil, fmt.Errorf("variable to simple needs exactly one variant, got %d", n)
		}
		trail.Add("Converting product %d to simple", product.ID)
		n, err := t.store.DeleteVariations(ctx, product.ID)
		if err != nil {
			return nil, err
		}
		trail.Add("Removed %d variations", n)
		if err := t.mat.ApplySimple(product, remote, trail); err != nil {
			return nil, err
		}
	default:
		return product, nil
	}

	if err := t.store.SaveProduct(ctx, product); err != nil {
		return nil, err
	}
	return t.store.GetProduct(ctx, product.ID)
}
