// Package syncer keeps the in-memory vector index aligned with the
// knowledge base. It polls for change signals, rebuilds the index from
// scratch when one fires, and publishes each rebuilt index atomically
// so readers always see a complete, consistent snapshot.
package syncer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/avelin0/sage/internal/encoder"
	"github.com/avelin0/sage/internal/knowledge"
	"github.com/avelin0/sage/internal/log"
	"github.com/avelin0/sage/internal/vecindex"
)

// Rebuild triggers, in evaluation order. At most one fires per poll.
const (
	triggerIndexAbsent   = "index_absent"
	triggerSourceRestart = "source_restart"
	triggerDataChanged   = "data_changed"
	triggerForced        = "forced"
)

// encodeBatchSize bounds one embedding request; encodeWorkers bounds
// concurrent requests against the embedding model during a rebuild.
const (
	encodeBatchSize = 32
	encodeWorkers   = 4
)

// Options configures a Syncer.
type Options struct {
	IndexDir  string
	Dimension int

	// PollInterval is how often change signals are evaluated.
	PollInterval time.Duration

	// MinRebuildInterval is the anti-thrash floor: a trigger firing
	// sooner than this after the previous rebuild is dropped, not
	// queued. A real change fires again on a later poll.
	MinRebuildInterval time.Duration

	// UptimeThreshold treats a knowledge store younger than this as
	// freshly restarted, which forces a rebuild since data may have
	// been reloaded.
	UptimeThreshold time.Duration
}

// RebuildResult summarizes one completed rebuild.
type RebuildResult struct {
	Count     int           `json:"count"`
	Duration  time.Duration `json:"duration"`
	SizeBytes int64         `json:"size_bytes"`
}

// Status is a snapshot of the synchronizer state for observability.
type Status struct {
	Active         bool       `json:"active"`
	IndexCount     int        `json:"index_count"`
	IndexSizeBytes int64      `json:"index_size_bytes"`
	Rebuilding     bool       `json:"rebuilding"`
	LastRebuildAt  *time.Time `json:"last_rebuild_at,omitempty"`
	LastTrigger    string     `json:"last_trigger,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	Baseline       *time.Time `json:"baseline_last_modified,omitempty"`
}

// Syncer owns the published index and its rebuild lifecycle. Reads go
// through Current and are lock-free; all rebuild state is guarded by
// mu. A Syncer is safe for concurrent use.
type Syncer struct {
	source knowledge.Source
	enc    encoder.Encoder
	opts   Options
	logger log.Logger
	now    func() time.Time

	current atomic.Pointer[vecindex.Index]

	mu          sync.Mutex
	active      bool
	rebuilding  bool
	lastRebuild time.Time
	lastTrigger string
	lastError   string
	baseline    time.Time
	baselineSet bool
}

// New creates a Syncer and publishes the persisted index if one is
// loadable, so the service answers from the previous build immediately
// after a restart.
func New(source knowledge.Source, enc encoder.Encoder, opts Options, logger log.Logger) *Syncer {
	s := &Syncer{
		source: source,
		enc:    enc,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
	s.current.Store(vecindex.Load(opts.IndexDir, opts.Dimension, logger))
	return s
}

// Current returns the published index. The returned index is immutable;
// callers may search it without coordination.
func (s *Syncer) Current() *vecindex.Index {
	return s.current.Load()
}

// Run polls for change signals until ctx is canceled. Intended to run
// in its own goroutine; it performs one poll immediately so a missing
// index is rebuilt at startup rather than one interval later. While
// Run is executing, Status reports the synchronizer as active.
func (s *Syncer) Run(ctx context.Context) {
	s.mu.Lock()
	s.active = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
		s.logger.Info("index synchronizer stopped")
	}()

	s.poll(ctx)

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

// poll evaluates the change signals in order and rebuilds on the first
// one that fires. Signal checks short-circuit: once a trigger is found
// the remaining probes are skipped.
func (s *Syncer) poll(ctx context.Context) {
	trigger, observed := s.detectTrigger(ctx)
	if trigger == "" {
		return
	}

	s.mu.Lock()
	if s.rebuilding {
		s.mu.Unlock()
		s.logger.Debug("rebuild already in progress, trigger skipped", "trigger", trigger)
		return
	}
	if !s.lastRebuild.IsZero() && s.now().Sub(s.lastRebuild) < s.opts.MinRebuildInterval {
		s.mu.Unlock()
		s.logger.Info("trigger dropped inside anti-thrash window",
			"trigger", trigger, "min_interval", s.opts.MinRebuildInterval)
		return
	}
	s.rebuilding = true
	s.mu.Unlock()

	s.logger.Info("index rebuild triggered", "trigger", trigger)
	result, err := s.rebuild(ctx)
	s.finishRebuild(trigger, observed, result, err)
}

// detectTrigger probes the change signals. observed carries the
// max(last_modified) seen during the probe so a successful rebuild can
// advance the baseline to exactly what was acted on.
func (s *Syncer) detectTrigger(ctx context.Context) (trigger string, observed *time.Time) {
	if !vecindex.Exists(s.opts.IndexDir) {
		return triggerIndexAbsent, nil
	}

	uptime, err := s.source.UptimeSeconds(ctx)
	if err != nil {
		s.logger.Warn("uptime probe failed, skipping poll", "error", err)
		return "", nil
	}
	if time.Duration(uptime)*time.Second < s.opts.UptimeThreshold {
		return triggerSourceRestart, nil
	}

	ts, ok, err := s.source.MaxLastModified(ctx)
	if err != nil {
		s.logger.Warn("last-modified probe failed, skipping poll", "error", err)
		return "", nil
	}
	if !ok {
		return "", nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.baselineSet {
		// First observation only records the baseline. Rebuilding here
		// would loop on every restart of this service.
		s.baseline = ts
		s.baselineSet = true
		s.logger.Debug("recorded last-modified baseline", "baseline", ts)
		return "", nil
	}
	if ts.After(s.baseline) {
		return triggerDataChanged, &ts
	}
	return "", nil
}

// ForceRebuild rebuilds immediately, bypassing triggers and the
// anti-thrash window. Returns an error if a rebuild is already running.
func (s *Syncer) ForceRebuild(ctx context.Context) (RebuildResult, error) {
	s.mu.Lock()
	if s.rebuilding {
		s.mu.Unlock()
		return RebuildResult{}, fmt.Errorf("rebuild already in progress")
	}
	s.rebuilding = true
	s.mu.Unlock()

	s.logger.Info("index rebuild triggered", "trigger", triggerForced)
	result, err := s.rebuild(ctx)
	s.finishRebuild(triggerForced, nil, result, err)
	return result, err
}

// finishRebuild clears the in-progress flag and records the outcome.
// Runs on every exit path of a rebuild, success or failure.
func (s *Syncer) finishRebuild(trigger string, observed *time.Time, result RebuildResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rebuilding = false
	s.lastRebuild = s.now()
	s.lastTrigger = trigger

	if err != nil {
		s.lastError = err.Error()
		s.logger.Error("index rebuild failed, previous index keeps serving",
			"trigger", trigger, "error", err)
		return
	}

	s.lastError = ""
	if observed != nil {
		s.baseline = *observed
		s.baselineSet = true
	}
	s.logger.Info("index rebuild complete",
		"trigger", trigger, "count", result.Count,
		"duration", result.Duration, "size_bytes", result.SizeBytes)
}

// rebuild constructs a fresh index from all active entries, persists
// it, and publishes it. The published index swaps in atomically; on any
// failure the previous index keeps serving untouched.
func (s *Syncer) rebuild(ctx context.Context) (RebuildResult, error) {
	start := s.now()

	entries, err := s.source.ListActive(ctx)
	if err != nil {
		return RebuildResult{}, fmt.Errorf("listing entries: %w", err)
	}

	ix, err := vecindex.New(s.opts.Dimension)
	if err != nil {
		return RebuildResult{}, err
	}

	if len(entries) > 0 {
		vectors, err := s.encodeEntries(ctx, entries)
		if err != nil {
			return RebuildResult{}, fmt.Errorf("encoding entries: %w", err)
		}
		ids := make([]int64, len(entries))
		for i, e := range entries {
			ids[i] = e.ID
		}
		if err := ix.Add(vectors, ids); err != nil {
			return RebuildResult{}, fmt.Errorf("populating index: %w", err)
		}
	}

	if err := ix.Save(s.opts.IndexDir); err != nil {
		return RebuildResult{}, fmt.Errorf("persisting index: %w", err)
	}

	s.current.Store(ix)

	return RebuildResult{
		Count:     ix.Count(),
		Duration:  s.now().Sub(start),
		SizeBytes: ix.SizeBytes(),
	}, nil
}

// encodeEntries embeds all entries in fixed-size batches with bounded
// concurrency. Each batch writes into its own slice segment, so the
// result preserves entry order regardless of completion order.
func (s *Syncer) encodeEntries(ctx context.Context, entries []knowledge.Entry) ([][]float32, error) {
	vectors := make([][]float32, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(encodeWorkers)

	for lo := 0; lo < len(entries); lo += encodeBatchSize {
		hi := min(lo+encodeBatchSize, len(entries))
		g.Go(func() error {
			texts := make([]string, hi-lo)
			for i, e := range entries[lo:hi] {
				texts[i] = e.EmbeddingText()
			}
			batch, err := s.enc.EncodeBatch(gctx, texts)
			if err != nil {
				return fmt.Errorf("batch [%d:%d]: %w", lo, hi, err)
			}
			copy(vectors[lo:hi], batch)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// Status implements the sync observability surface.
func (s *Syncer) Status() Status {
	ix := s.Current()

	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Active:         s.active,
		IndexCount:     ix.Count(),
		IndexSizeBytes: ix.SizeBytes(),
		Rebuilding:     s.rebuilding,
		LastTrigger:    s.lastTrigger,
		LastError:      s.lastError,
	}
	if !s.lastRebuild.IsZero() {
		t := s.lastRebuild
		st.LastRebuildAt = &t
	}
	if s.baselineSet {
		b := s.baseline
		st.Baseline = &b
	}
	return st
}
