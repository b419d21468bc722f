package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"catalogsync/internal/logger"

	"golang.org/x/time/rate"
)

// ErrNotFound is returned when the source does not know a SKU.
var ErrNotFound = errors.New("source product not found")

// ErrNotActivated is returned when no source token is configured.
var ErrNotActivated = errors.New("source access is not activated")

// ErrUnauthorized is returned when the source rejects the token (401/403).
var ErrUnauthorized = errors.New("source rejected the access token")

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	retryBase  time.Duration
	logger     *logger.Logger
}

// NewClient builds a client allowed ratePerMin requests per minute.
func NewClient(baseURL, token string, ratePerMin int, logger *logger.Logger) *Client {
	if ratePerMin <= 0 {
		ratePerMin = 120
	}
	burst := ratePerMin / 10
	if burst < 1 {
		burst = 1
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(ratePerMin)), burst),
		retryBase: retryBaseDelay,
		logger:    logger,
	}
}

// WithRetryBase overrides the first backoff step.
func (c *Client) WithRetryBase(d time.Duration) *Client {
	c.retryBase = d
	return c
}

// Activated reports whether the service holds a source token.
func (c *Client) Activated() bool {
	return c.token != ""
}

// ListProductsRaw fetches one page of products without decoding the items,
// so malformed records can be skipped individually by the caller.
func (c *Client) ListProductsRaw(ctx context.Context, page, limit int, since *time.Time) (*Page[json.RawMessage], error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	if since != nil {
		q.Set("since", strconv.FormatInt(since.UnixMilli(), 10))
	}

	var resp Page[json.RawMessage]
	if err := c.getJSON(ctx, "/products", q, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListProducts fetches one page of decoded products. Undecodable items are
// dropped and logged.
func (c *Client) ListProducts(ctx context.Context, page, limit int, since *time.Time) (*Page[Product], error) {
	raw, err := c.ListProductsRaw(ctx, page, limit, since)
	if err != nil {
		return nil, err
	}
	out := &Page[Product]{Total: raw.Total, Items: make([]Product, 0, len(raw.Items))}
	for _, item := range raw.Items {
		p, err := Decode(item)
		if err != nil {
			c.logger.Warn("Skipping undecodable source product: %v", err)
			continue
		}
		out.Items = append(out.Items, *p)
	}
	return out, nil
}

// GetProduct fetches one product by SKU.
func (c *Client) GetProduct(ctx context.Context, sku string) (*Product, error) {
	if strings.TrimSpace(sku) == "" {
		return nil, fmt.Errorf("empty sku: %w", ErrNotFound)
	}
	var resp Product
	if err := c.getJSON(ctx, "/products/"+url.PathEscape(sku), nil, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		resp.ID = sku
	}
	return &resp, nil
}

func (c *Client) ListCategories(ctx context.Context, page, limit int) (*Page[CategoryDef], error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	var resp Page[CategoryDef]
	if err := c.getJSON(ctx, "/categories", q, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ListAttributes(ctx context.Context, page, limit int) (*Page[AttributeDef], error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	var resp Page[AttributeDef]
	if err := c.getJSON(ctx, "/attributes", q, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	if !c.Activated() {
		return ErrNotActivated
	}

	var lastErr error
	for attempt := 0; attempt <= retryMax; attempt++ {
		if attempt > 0 {
			if err := sleepWithContext(ctx, retryDelay(c.retryBase, attempt-1)); err != nil {
				return err
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		body, err := c.do(ctx, path, query)
		if err == nil {
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
			return nil
		}
		switch StatusCode(err) {
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w", path, ErrNotFound)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%s: %w: %w", path, ErrUnauthorized, err)
		}
		lastErr = err
		if !isRetryableHTTPError(err) && StatusCode(err) != 0 {
			return err
		}
		c.logger.Debug("Source request %s failed (attempt %d): %v", path, attempt+1, err)
	}
	return lastErr
}

func (c *Client) do(ctx context.Context, path string, query url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newHTTPStatusError(resp.StatusCode, resp.Status, body)
	}
	return body, nil
}
