package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusOfWrapped(t *testing.T) {
	base := errors.New("connection refused")
	err := fmt.Errorf("sync product 7: %w", Upstream("remote fetch failed", base))

	assert.Equal(t, http.StatusBadGateway, StatusOf(err))
	assert.Equal(t, "remote fetch failed", MessageOf(err))
	assert.ErrorIs(t, err, base)
}

func TestStatusOfPlainError(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("boom")))
	assert.Equal(t, http.StatusOK, StatusOf(nil))
	assert.Equal(t, "boom", MessageOf(errors.New("boom")))
}
