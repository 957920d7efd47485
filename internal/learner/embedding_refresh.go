package learner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/errgroup"

	"github.com/opsloop/saiban/internal/model"
	"github.com/opsloop/saiban/internal/nnindex"
)

// refreshOneBestEffort recomputes a single human's capability embedding for
// a service right after a resolution, logging failures rather than
// propagating them: the periodic worker will catch anything missed here.
func (s *Service) refreshOneBestEffort(humanID, service string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.refreshCapabilityEmbedding(ctx, humanID, service); err != nil {
		s.logger.Warn("learner: best-effort capability embedding refresh failed", "human_id", humanID, "service", service, "error", err)
	}
}

// refreshCapabilityEmbedding recomputes a human's capability embedding for a
// service from their most recent resolved items, weighting the most recent
// item the most, per the source's recency-weighted aggregation.
func (s *Service) refreshCapabilityEmbedding(ctx context.Context, humanID, service string) error {
	if s.embedder == nil {
		return fmt.Errorf("learner: no embedding provider configured")
	}
	items, err := s.db.RecentResolvedEdges(ctx, humanID, service, recentResolvedLimit)
	if err != nil {
		return fmt.Errorf("learner: load recent resolved edges: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	var weighted []float64
	var totalWeight float64
	for i, item := range items {
		vec, err := s.embedder.Embed(ctx, item.Description)
		if err != nil {
			return fmt.Errorf("learner: embed resolved item %s: %w", item.ID, err)
		}
		weight := 1.0 / float64(i+1) // most recent (i=0) weighted highest
		slice := vec.Slice()
		if weighted == nil {
			weighted = make([]float64, len(slice))
		}
		for d, v := range slice {
			weighted[d] += float64(v) * weight
		}
		totalWeight += weight
	}
	if totalWeight == 0 {
		return nil
	}

	aggregated := make([]float32, len(weighted))
	for d, v := range weighted {
		aggregated[d] = float32(v / totalWeight)
	}

	x, y, z := s.projector.Project(aggregated)
	coords := model.Coords3D{X: x, Y: y, Z: z}

	if err := s.db.SetHumanCapabilityEmbedding(ctx, humanID, pgvector.NewVector(aggregated), coords); err != nil {
		return fmt.Errorf("learner: persist capability embedding: %w", err)
	}

	if s.index != nil {
		if err := s.index.Upsert(ctx, []nnindex.Point{{
			ID:     humanID,
			Vector: aggregated,
			Payload: map[string]any{
				"human_id": humanID,
				"service":  service,
			},
		}}); err != nil {
			s.logger.Warn("learner: capability embedding index upsert failed", "human_id", humanID, "service", service, "error", err)
		}
	}
	return nil
}

// RefreshWorker periodically recomputes capability embeddings for every
// (human, service) pair touched by a resolution since its last run.
type RefreshWorker struct {
	svc          *Service
	logger       *slog.Logger
	pollInterval time.Duration
	workers      int

	started    atomic.Bool
	cancelLoop context.CancelFunc
	done       chan struct{}
	once       sync.Once
	lastRun    time.Time
}

// NewRefreshWorker creates a capability-embedding refresh worker polling at
// the given interval. workers bounds how many (human, service) pairs are
// recomputed concurrently per pass; <=0 defaults to 4.
func NewRefreshWorker(svc *Service, logger *slog.Logger, pollInterval time.Duration, workers int) *RefreshWorker {
	if workers <= 0 {
		workers = 4
	}
	return &RefreshWorker{
		svc:          svc,
		logger:       logger,
		pollInterval: pollInterval,
		workers:      workers,
		done:         make(chan struct{}),
		lastRun:      time.Now().Add(-pollInterval),
	}
}

// Start begins the background poll loop. Safe to call only once.
func (w *RefreshWorker) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		w.logger.Warn("learner: refresh worker Start called more than once, ignoring")
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancelLoop = cancel
	go w.pollLoop(loopCtx)
}

// Drain stops the poll loop and blocks until it exits or ctx expires.
func (w *RefreshWorker) Drain(ctx context.Context) {
	if w.cancelLoop != nil {
		w.cancelLoop()
	}
	select {
	case <-w.done:
	case <-ctx.Done():
		w.logger.Warn("learner: refresh worker drain timed out")
	}
}

func (w *RefreshWorker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.once.Do(func() { close(w.done) })
			return
		case <-ticker.C:
			batchCtx, cancel := context.WithTimeout(ctx, w.pollInterval)
			w.runOnce(batchCtx)
			cancel()
		}
	}
}

func (w *RefreshWorker) runOnce(ctx context.Context) {
	since := w.lastRun
	w.lastRun = time.Now()

	pairs, err := w.svc.db.HumansNeedingEmbeddingRefresh(ctx, since)
	if err != nil {
		w.logger.Error("learner: refresh worker list pairs", "error", err)
		return
	}
	if len(pairs) == 0 {
		return
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(w.workers)

	for _, p := range pairs {
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
			}
			if err := w.svc.refreshCapabilityEmbedding(gCtx, p.HumanID, p.Service); err != nil {
				w.logger.Error("learner: refresh worker recompute failed", "human_id", p.HumanID, "service", p.Service, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	w.logger.Info("learner: refreshed capability embeddings", "count", len(pairs))
}
