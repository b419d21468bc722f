package syncer

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"catalogsync/internal/apperr"
	"catalogsync/internal/logger"
	"catalogsync/internal/options"
)

const (
	pushLockName      = "push_window"
	DefaultPushMaxSKU = 50
	DefaultPushWindow = 5 * time.Second
)

type PushConfig struct {
	MaxSKUs int
	Window  time.Duration
}

type PushItem struct {
	SKU        string `json:"sku"`
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
}

type PushResponse struct {
	Processed     int        `json:"processed"`
	Results       []PushItem `json:"results"`
	RateWindowSec int        `json:"rate_window_sec"`
}

// Pusher syncs SKUs announced by an external system.
type Pusher struct {
	engine *Engine
	locker options.Locker
	cfg    PushConfig
	logger *logger.Logger
}

func NewPusher(engine *Engine, locker options.Locker, cfg PushConfig, logger *logger.Logger) *Pusher {
	if cfg.MaxSKUs <= 0 {
		cfg.MaxSKUs = DefaultPushMaxSKU
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultPushWindow
	}
	return &Pusher{engine: engine, locker: locker, cfg: cfg, logger: logger}
}

// Push validates the request and processes it when the rate window is open.
// A nil fullSync means a full sync.
func (p *Pusher) Push(ctx context.Context, skus []string, fullSync *bool) (*PushResponse, error) {
	admitted, err := p.Admit(ctx, skus)
	if err != nil {
		return nil, err
	}
	full := true
	if fullSync != nil {
		full = *fullSync
	}
	return p.Process(ctx, admitted, full), nil
}

// Admit cleans and bounds the SKU list and takes the rate window. The
// returned SKUs are trimmed and deduplicated.
func (p *Pusher) Admit(ctx context.Context, skus []string) ([]string, error) {
	cleaned := cleanSKUs(skus)
	if len(cleaned) == 0 {
		return nil, apperr.BadRequest("skus must contain at least one SKU", nil)
	}
	if len(cleaned) > p.cfg.MaxSKUs {
		return nil, apperr.BadRequest(fmt.Sprintf("at most %d SKUs per request", p.cfg.MaxSKUs), nil)
	}

	ok, err := p.locker.TryLock(ctx, pushLockName, p.cfg.Window)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.TooManyRequests(fmt.Sprintf("Too many push requests, retry in %d seconds", p.windowSeconds()))
	}
	return cleaned, nil
}

// Process syncs every SKU in order, ignoring the rate window.
func (p *Pusher) Process(ctx context.Context, skus []string, fullSync bool) *PushResponse {
	opts := Options{Force: true, FullSync: fullSync}
	resp := &PushResponse{
		Results:       make([]PushItem, 0, len(skus)),
		RateWindowSec: p.windowSeconds(),
	}
	for _, sku := range skus {
		res := p.engine.SyncSKU(ctx, sku, opts)
		resp.Results = append(resp.Results, PushItem{
			SKU:        sku,
			Success:    res.Updated,
			StatusCode: res.StatusCode,
			Message:    res.Message,
		})
		resp.Processed++
		if res.StatusCode != http.StatusOK {
			p.logger.Debug("Push sync of %s: %d %s", sku, res.StatusCode, res.Message)
		}
	}
	p.logger.Info("Push processed %d SKUs (full_sync=%t)", resp.Processed, fullSync)
	return resp
}

// RateWindowSeconds is the minimum spacing of push requests.
func (p *Pusher) RateWindowSeconds() int {
	return p.windowSeconds()
}

func (p *Pusher) windowSeconds() int {
	return int(p.cfg.Window / time.Second)
}

func cleanSKUs(skus []string) []string {
	out := make([]string, 0, len(skus))
	seen := make(map[string]bool, len(skus))
	for _, s := range skus {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
