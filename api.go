// Package handler is the serverless entry point. It serves the same router
// as cmd/api, building it on the first request of a cold instance.
package handler

import (
	"context"
	"net/http"
	"sync"

	"catalogsync/internal/api"
	"catalogsync/internal/app"
	"catalogsync/internal/config"
	"catalogsync/internal/logger"
)

var (
	initOnce sync.Once
	router   http.Handler
	initErr  error
)

func setup() {
	cfg, err := config.Load()
	if err != nil {
		initErr = err
		return
	}
	log := logger.New(cfg.LogLevel, cfg.Env)

	a, err := app.Build(context.Background(), cfg, log)
	if err != nil {
		log.Error("Failed to initialize: %v", err)
		initErr = err
		return
	}

	router = api.New(cfg, log, api.Deps{
		Store:    a.Store,
		Mapper:   a.Mapper,
		Staging:  a.Staging,
		Ledger:   a.Ledger,
		Importer: a.Importer,
		Engine:   a.Engine,
		Pusher:   a.Pusher,
	}).Router()
}

// Handler serves one request.
func Handler(w http.ResponseWriter, r *http.Request) {
	initOnce.Do(setup)
	if initErr != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"service unavailable"}`))
		return
	}
	router.ServeHTTP(w, r)
}
