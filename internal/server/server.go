/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package server exposes designs, editor sessions, rendering, QR codes,
// templates, uploads and the public viewer over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"canvasqr/internal/artifacts"
	"canvasqr/internal/autosave"
	"canvasqr/internal/config"
	"canvasqr/internal/domain"
	"canvasqr/internal/editor"
	"canvasqr/internal/history"
	"canvasqr/internal/layout"
	applog "canvasqr/internal/log"
	"canvasqr/internal/storage"
)

// PreviewCache is the rendered-preview cache; storage.Workspace implements it.
type PreviewCache interface {
	GetOrCreatePreview(ctx context.Context, k storage.PreviewKey, gen func(context.Context) ([]byte, error)) ([]byte, error)
}

// PreviewQueue schedules thumbnail renders; jobs.Queue implements it.
// rev identifies the saved revision the render should reflect.
type PreviewQueue interface {
	EnqueuePreview(ctx context.Context, designID string, rev time.Time) error
}

// Deps are the collaborators of a Server. Store is required.
type Deps struct {
	Config    config.AppConfig
	Secrets   config.Secrets
	Store     domain.Store
	Previews  PreviewCache
	Artifacts artifacts.Store
	Jobs      PreviewQueue
	// Ready reports backend health for /readyz; nil means always ready.
	Ready func(ctx context.Context) error
	// Registerer receives the HTTP metrics; nil uses a private registry.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// Server wires the HTTP API to the stores and editor sessions.
type Server struct {
	cfg      config.AppConfig
	secret   string
	store    domain.Store
	previews PreviewCache
	arts     artifacts.Store
	jobs     PreviewQueue
	ready    func(ctx context.Context) error
	sessions *editor.Registry
	layout   layout.Options
	metrics  *metrics
	limiter  *ipLimiter
	l        *slog.Logger
	handler  http.Handler
}

func New(d Deps) (*Server, error) {
	if d.Store == nil {
		return nil, errors.New("server: store is required")
	}
	cfg := d.Config
	s := &Server{
		cfg:      cfg,
		secret:   d.Secrets.AuthSecret,
		store:    d.Store,
		previews: d.Previews,
		arts:     d.Artifacts,
		jobs:     d.Jobs,
		ready:    d.Ready,
		layout:   layout.Options{LegacyCenterText: cfg.General.LegacyCenterText},
		l:        applog.WithComponent("server"),
	}
	if s.secret == "" {
		s.l.Warn("auth secret not set; bearer tokens are rejected and requests are anonymous")
	}
	hist := history.NewManager(history.Config{
		MaxBytes:    int(cfg.Editor.HistoryMaxBytes),
		MaxDepth:    cfg.Editor.HistoryMaxDepth,
		MinInterval: cfg.Editor.HistoryCoalesce(),
	})
	s.sessions = editor.NewRegistry(&storeSaver{store: d.Store, jobs: d.Jobs, l: s.l}, hist, editor.Options{
		Layout:        s.layout,
		PasteOffset:   float64(cfg.Editor.PasteOffset),
		SnapThreshold: float64(cfg.Editor.SnapTolerance),
		Autosave: autosave.Options{
			Debounce:   cfg.Editor.AutosaveDebounce(),
			MaxRetries: cfg.Editor.SaveRetries,
		},
	})
	m, err := newMetrics(d.Registerer, d.Gatherer, s.sessions)
	if err != nil {
		return nil, err
	}
	s.metrics = m
	s.limiter = newIPLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	s.handler = s.routes()
	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Sessions exposes the editor registry, for crash flushing and tests.
func (s *Server) Sessions() *editor.Registry { return s.sessions }

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.StrictSlash(false)
	r.Use(s.logMiddleware, s.recoverMiddleware, s.metrics.middleware)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	r.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)
	if s.cfg.Server.EnableMetrics {
		r.Handle("/metrics", s.metrics.handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.limiter.middleware, s.identify)

	api.HandleFunc("/designs", s.handleListDesigns).Methods(http.MethodGet)
	api.HandleFunc("/designs", s.handleCreateDesign).Methods(http.MethodPost)
	api.HandleFunc("/designs/search", s.handleSearchDesigns).Methods(http.MethodGet)
	api.HandleFunc("/designs/{id}", s.handleGetDesign).Methods(http.MethodGet)
	api.HandleFunc("/designs/{id}", s.handleUpdateDesign).Methods(http.MethodPut)
	api.HandleFunc("/designs/{id}", s.handleDeleteDesign).Methods(http.MethodDelete)

	api.HandleFunc("/designs/{id}/canvas", s.handleGetCanvas).Methods(http.MethodGet)
	api.HandleFunc("/designs/{id}/canvas", s.handlePutCanvas).Methods(http.MethodPut)
	api.HandleFunc("/designs/{id}/objects", s.handleAddObject).Methods(http.MethodPost)
	api.HandleFunc("/designs/{id}/objects/{oid}", s.handleUpdateObject).Methods(http.MethodPatch)
	api.HandleFunc("/designs/{id}/objects/{oid}", s.handleRemoveObject).Methods(http.MethodDelete)
	api.HandleFunc("/designs/{id}/objects/{oid}/copy", s.handleCopyObject).Methods(http.MethodPost)
	api.HandleFunc("/designs/{id}/objects/{oid}/move", s.handleMoveObject).Methods(http.MethodPost)
	api.HandleFunc("/designs/{id}/objects/{oid}/resize", s.handleResizeObject).Methods(http.MethodPost)
	api.HandleFunc("/designs/{id}/objects/{oid}/rotate", s.handleRotateObject).Methods(http.MethodPost)
	api.HandleFunc("/designs/{id}/objects/{oid}/{dir:forward|backward}", s.handleRestackObject).Methods(http.MethodPost)
	api.HandleFunc("/designs/{id}/objects/{oid}/action", s.handleSetAction).Methods(http.MethodPut)
	api.HandleFunc("/designs/{id}/background", s.handleSetBackground).Methods(http.MethodPut)
	api.HandleFunc("/designs/{id}/hit", s.handleHitTest).Methods(http.MethodGet)
	api.HandleFunc("/designs/{id}/paste", s.handlePaste).Methods(http.MethodPost)
	api.HandleFunc("/designs/{id}/undo", s.handleUndo).Methods(http.MethodPost)
	api.HandleFunc("/designs/{id}/redo", s.handleRedo).Methods(http.MethodPost)
	api.HandleFunc("/designs/{id}/save", s.handleSave).Methods(http.MethodPost)
	api.HandleFunc("/designs/{id}/notifications", s.handleNotifications).Methods(http.MethodGet)

	api.HandleFunc("/designs/{id}/preview", s.handlePreview).Methods(http.MethodGet)
	api.HandleFunc("/designs/{id}/thumbnail.png", s.handleThumbnail).Methods(http.MethodGet)
	api.HandleFunc("/designs/{id}/export.{format:html|svg|png|jpeg|pdf}", s.handleExport).Methods(http.MethodGet)

	api.HandleFunc("/designs/{id}/qr-code", s.handleGetQRCode).Methods(http.MethodGet)
	api.HandleFunc("/designs/{id}/qr-code", s.handleGenerateQRCode).Methods(http.MethodPost)
	api.HandleFunc("/designs/{id}/qr-code/download", s.handleDownloadQRCode).Methods(http.MethodGet)

	api.HandleFunc("/templates", s.handleListTemplates).Methods(http.MethodGet)
	api.HandleFunc("/templates", s.handleCreateTemplate).Methods(http.MethodPost)
	api.HandleFunc("/templates/{tid}", s.handleGetTemplate).Methods(http.MethodGet)
	api.HandleFunc("/templates/{tid}", s.handleDeleteTemplate).Methods(http.MethodDelete)
	api.HandleFunc("/designs/{id}/template", s.handleSaveAsTemplate).Methods(http.MethodPost)
	api.HandleFunc("/designs/{id}/load-template/{tid}", s.handleLoadTemplate).Methods(http.MethodPost)

	api.HandleFunc("/uploads", s.handleUpload).Methods(http.MethodPost)

	if fs, ok := s.arts.(*artifacts.FileStore); ok {
		r.PathPrefix("/artifacts/").Handler(http.StripPrefix("/artifacts/", http.FileServer(http.Dir(fs.Dir)))).Methods(http.MethodGet)
	}

	viewer := r.PathPrefix("/").Subrouter()
	viewer.Use(s.limiter.middleware, s.identify)
	viewer.HandleFunc("/{locale:[a-zA-Z][a-zA-Z](?:-[a-zA-Z][a-zA-Z])?}/design/{id}/qr-code", s.handleQRScreen).Methods(http.MethodGet)
	viewer.HandleFunc("/{locale:[a-zA-Z][a-zA-Z](?:-[a-zA-Z][a-zA-Z])?}/{slugOrID}", s.handleViewer).Methods(http.MethodGet)

	cors := handlers.CORS(
		handlers.AllowedOrigins(s.cfg.Server.AllowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", ownerHeader}),
		handlers.ExposedHeaders([]string{"Content-Length", "Content-Disposition"}),
	)
	return cors(r)
}

// Run serves until ctx is cancelled, then drains requests and flushes
// every open editor session.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Server.Addr,
		Handler:      s.handler,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeoutMs) * time.Millisecond,
		IdleTimeout:  120 * time.Second,
	}
	go s.limiter.cleanup(ctx)
	go s.evictIdle(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.l.Info("listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	grace := time.Duration(s.cfg.Server.ShutdownGraceMs) * time.Millisecond
	if grace <= 0 {
		grace = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if cerr := s.sessions.CloseAll(shutdownCtx); cerr != nil {
		s.l.Error("flush sessions on shutdown", slog.Any("err", cerr))
		err = errors.Join(err, cerr)
	}
	s.l.Info("server stopped")
	return err
}

func (s *Server) evictIdle(ctx context.Context) {
	idle := s.cfg.Editor.SessionIdle()
	t := time.NewTicker(idle / 4)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.sessions.EvictIdle(ctx, idle); n > 0 {
				s.l.Info("idle sessions closed", slog.Int("count", n))
			}
		}
	}
}

