/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */


package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"canvasqr/internal/artifacts"
	"canvasqr/internal/domain"
	"canvasqr/internal/jobs"
	"canvasqr/internal/layout"
	"canvasqr/internal/pgstore"
	"canvasqr/internal/render"
	"canvasqr/internal/server"
	"canvasqr/internal/storage"
)

// backend is the opened design store plus what the local workspace adds.
type backend struct {
	store domain.Store
	// ws is set for the local driver; it doubles as the preview cache.
	ws    *storage.Workspace
	ready func(ctx context.Context) error
}

func (a *app) openBackend(ctx context.Context) (*backend, error) {
	switch strings.ToLower(a.cfg.Storage.Driver) {
	case "", "local":
		ws, err := a.workspace(ctx)
		if err != nil {
			return nil, err
		}
		return &backend{store: ws, ws: ws, ready: func(ctx context.Context) error { return ws.DB().PingContext(ctx) }}, nil
	case "postgres", "pg":
		if a.cfg.Storage.PostgresDSN == "" {
			return nil, errors.New("storage.postgres_dsn is required for the postgres driver")
		}
		pg, err := pgstore.Open(ctx, a.cfg.Storage.PostgresDSN, pgstore.Options{})
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return &backend{store: pg, ready: pg.Ping}, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", a.cfg.Storage.Driver)
}

func (b *backend) previews() jobs.PreviewCache {
	if b.ws == nil {
		return nil
	}
	return b.ws
}

func (a *app) processor(b *backend, arts artifacts.Store) *jobs.Processor {
	opts := render.Options{Layout: layout.Options{LegacyCenterText: a.cfg.General.LegacyCenterText}}
	return jobs.NewProcessor(b.store, b.previews(), arts, a.cfg.Jobs.PreviewWidth, opts)
}

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			b, err := a.openBackend(ctx)
			if err != nil {
				return err
			}
			defer b.store.Close()

			arts, err := artifacts.Open(ctx, a.cfg.Artifacts, a.sec, a.cfg.General.DataDir)
			if err != nil {
				return fmt.Errorf("open artifacts: %w", err)
			}
			crashOpts.Uploader = arts

			var client *asynq.Client
			if a.cfg.Jobs.RedisAddr != "" {
				client = asynq.NewClient(jobs.RedisOpt(a.cfg.Jobs.RedisAddr, a.sec.RedisPassword, a.cfg.Jobs.RedisDB))
				a.l.Info("preview jobs go to redis", slog.String("addr", a.cfg.Jobs.RedisAddr))
			}
			queue := jobs.NewQueue(client, a.processor(b, arts), a.cfg.Jobs.MaxRetry)
			defer queue.Close()

			deps := server.Deps{
				Config:    a.cfg,
				Secrets:   a.sec,
				Store:     b.store,
				Artifacts: arts,
				Jobs:      queue,
				Ready:     b.ready,
			}
			if b.ws != nil {
				deps.Previews = b.ws
			}
			srv, err := server.New(deps)
			if err != nil {
				return err
			}
			crashOpts.Sessions = srv.Sessions()
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}

func newWorkerCmd(a *app) *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Render preview thumbnails from the Redis queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if a.cfg.Jobs.RedisAddr == "" {
				return errors.New("jobs.redis_addr is required for the worker")
			}
			b, err := a.openBackend(ctx)
			if err != nil {
				return err
			}
			defer b.store.Close()
			arts, err := artifacts.Open(ctx, a.cfg.Artifacts, a.sec, a.cfg.General.DataDir)
			if err != nil {
				return fmt.Errorf("open artifacts: %w", err)
			}
			crashOpts.Uploader = arts
			if concurrency <= 0 {
				concurrency = a.cfg.Jobs.Concurrency
			}
			a.l.Info("worker starting", slog.String("redis", a.cfg.Jobs.RedisAddr), slog.Int("concurrency", concurrency))
			opt := jobs.RedisOpt(a.cfg.Jobs.RedisAddr, a.sec.RedisPassword, a.cfg.Jobs.RedisDB)
			return jobs.RunWorker(ctx, opt, concurrency, a.processor(b, arts))
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Parallel renders (overrides jobs.concurrency)")
	return cmd
}
