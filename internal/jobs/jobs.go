/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package jobs renders design previews in the background. With Redis
// configured tasks go through asynq; without it they run in-process.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"canvasqr/internal/artifacts"
	"canvasqr/internal/canvas"
	"canvasqr/internal/domain"
	applog "canvasqr/internal/log"
	"canvasqr/internal/render"
	"canvasqr/internal/storage"
)

// TaskRenderPreview is enqueued after every persisted save of a design.
const TaskRenderPreview = "design:render-preview"

// DefaultPreviewWidth is the thumbnail width in pixels.
const DefaultPreviewWidth = 480

// PreviewPayload is the task body.
type PreviewPayload struct {
	DesignID string `json:"design_id"`
	Width    int    `json:"width,omitempty"`
}

// PreviewCache receives rendered thumbnails. storage.Workspace implements it.
type PreviewCache interface {
	PutPreview(ctx context.Context, k storage.PreviewKey, blob []byte) error
}

// Processor renders previews for stored designs.
type Processor struct {
	Store     domain.Store
	Previews  PreviewCache
	Artifacts artifacts.Store
	Width     int
	Render    render.Options
	l         *slog.Logger
}

func NewProcessor(store domain.Store, previews PreviewCache, arts artifacts.Store, width int, opts render.Options) *Processor {
	if width <= 0 {
		width = DefaultPreviewWidth
	}
	return &Processor{Store: store, Previews: previews, Artifacts: arts, Width: width, Render: opts, l: applog.WithComponent("jobs")}
}

// PreviewArtifactKey is where a design's thumbnail lands in the artifact store.
func PreviewArtifactKey(designID string) string { return "previews/" + designID + ".png" }

// RenderPreview rasterizes the stored canvas of designID to a PNG of the
// requested width and stores it in the preview cache and artifact store.
func (p *Processor) RenderPreview(ctx context.Context, designID string, width int) ([]byte, error) {
	if width <= 0 {
		width = p.Width
	}
	d, err := p.Store.LoadDesign(ctx, designID)
	if err != nil {
		return nil, fmt.Errorf("load design: %w", err)
	}
	doc, err := canvas.ParseOrNew(d.CanvasData, d.Width, d.Height)
	if err != nil {
		return nil, fmt.Errorf("parse canvas: %w", err)
	}
	sc := render.Build(doc, p.Render)
	if sc.Width <= 0 {
		return nil, render.ErrEmptyCanvas
	}
	scale := float64(width) / sc.Width
	png, err := render.PNG(sc, scale)
	if err != nil {
		return nil, fmt.Errorf("render preview: %w", err)
	}
	if p.Previews != nil {
		if err := p.Previews.PutPreview(ctx, ThumbKey(designID, sc, width), png); err != nil {
			return nil, err
		}
	}
	if p.Artifacts != nil {
		if _, err := p.Artifacts.Put(ctx, PreviewArtifactKey(designID), png, "image/png"); err != nil {
			return nil, fmt.Errorf("store preview: %w", err)
		}
	}
	p.l.Debug("preview rendered", slog.String("design", designID), slog.Int("width", width), slog.Int("bytes", len(png)))
	return png, nil
}

// ThumbKey is the preview cache key of a thumbnail width pixels wide.
func ThumbKey(designID string, sc *render.Scene, width int) storage.PreviewKey {
	h := 0
	if sc.Width > 0 {
		h = int(math.Ceil(sc.Height * float64(width) / sc.Width))
	}
	return storage.PreviewKey{DesignID: designID, Kind: storage.PreviewKindThumb, W: width, H: h}
}

// Handler registers the task handlers for an asynq server.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskRenderPreview, p.handlePreview)
	return mux
}

func (p *Processor) handlePreview(ctx context.Context, t *asynq.Task) error {
	var payload PreviewPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w: %w", err, asynq.SkipRetry)
	}
	_, err := p.RenderPreview(ctx, payload.DesignID, payload.Width)
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, render.ErrEmptyCanvas) {
		p.l.Info("preview skipped", slog.String("design", payload.DesignID), slog.Any("err", err))
		return nil
	}
	return err
}

// NewPreviewTask builds the task for designID.
func NewPreviewTask(designID string, width int) (*asynq.Task, error) {
	data, err := json.Marshal(PreviewPayload{DesignID: designID, Width: width})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(TaskRenderPreview, data), nil
}

// Queue hands preview tasks to Redis or, without a client, to an
// in-process goroutine.
type Queue struct {
	client   *asynq.Client
	inline   *Processor
	maxRetry int
	timeout  time.Duration
	l        *slog.Logger

	wg sync.WaitGroup
	// running dedupes inline renders per design.
	mu      sync.Mutex
	running map[string]bool
	again   map[string]bool
}

// NewQueue returns a queue backed by client, or an inline queue when
// client is nil.
func NewQueue(client *asynq.Client, inline *Processor, maxRetry int) *Queue {
	if maxRetry <= 0 {
		maxRetry = 5
	}
	return &Queue{
		client: client, inline: inline, maxRetry: maxRetry, timeout: time.Minute,
		l: applog.WithComponent("jobs"), running: map[string]bool{}, again: map[string]bool{},
	}
}

// PreviewTaskID names the preview task of one saved revision. Saves of
// the same revision collapse into one task; a newer revision always gets
// its own task, even while an older render is still running.
func PreviewTaskID(designID string, rev time.Time) string {
	return fmt.Sprintf("preview:%s:%d", designID, rev.UTC().UnixNano())
}

// EnqueuePreview schedules a thumbnail render of designID at revision rev.
func (q *Queue) EnqueuePreview(ctx context.Context, designID string, rev time.Time) error {
	if q.client != nil {
		task, err := NewPreviewTask(designID, 0)
		if err != nil {
			return err
		}
		_, err = q.client.EnqueueContext(ctx, task,
			asynq.MaxRetry(q.maxRetry),
			asynq.TaskID(PreviewTaskID(designID, rev)),
			asynq.Queue("previews"))
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			q.l.Debug("preview already queued", slog.String("design", designID), slog.Time("rev", rev))
			return nil
		}
		if err != nil {
			return fmt.Errorf("enqueue preview task: %w", err)
		}
		return nil
	}
	if q.inline == nil {
		return nil
	}
	q.mu.Lock()
	if q.running[designID] {
		q.again[designID] = true
		q.mu.Unlock()
		return nil
	}
	q.running[designID] = true
	q.wg.Add(1)
	q.mu.Unlock()
	go q.runInline(designID)
	return nil
}

func (q *Queue) runInline(designID string) {
	defer q.wg.Done()
	for {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		_, err := q.inline.RenderPreview(ctx, designID, 0)
		cancel()
		if err != nil && !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, render.ErrEmptyCanvas) {
			q.l.Warn("inline preview failed", slog.String("design", designID), slog.Any("err", err))
		}
		q.mu.Lock()
		if !q.again[designID] {
			delete(q.running, designID)
			q.mu.Unlock()
			return
		}
		delete(q.again, designID)
		q.mu.Unlock()
	}
}

// Wait blocks until inline renders finish.
func (q *Queue) Wait() { q.wg.Wait() }

// Close waits for inline work and releases the Redis client.
func (q *Queue) Close() error {
	q.Wait()
	if q.client != nil {
		return q.client.Close()
	}
	return nil
}

// RedisOpt builds the asynq connection options.
func RedisOpt(addr, password string, db int) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: addr, Password: password, DB: db}
}

// RunWorker serves preview tasks until ctx is cancelled.
func RunWorker(ctx context.Context, opt asynq.RedisClientOpt, concurrency int, p *Processor) error {
	if concurrency <= 0 {
		concurrency = 4
	}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{"previews": 1},
		Logger:      asynqLogger{l: applog.WithComponent("asynq")},
	})
	go func() {
		<-ctx.Done()
		srv.Shutdown()
	}()
	if err := srv.Run(p.Handler()); err != nil {
		return fmt.Errorf("worker stopped: %w", err)
	}
	return nil
}

// asynqLogger routes asynq's logs into slog.
type asynqLogger struct{ l *slog.Logger }

func (a asynqLogger) Debug(args ...any) { a.l.Debug(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...any)  { a.l.Info(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...any)  { a.l.Warn(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...any) { a.l.Error(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...any) { a.l.Error(fmt.Sprint(args...)) }
