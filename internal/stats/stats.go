// Package stats periodically publishes a JSON snapshot of orchestrator
// state to shared memory for the TUI/CLI to read without going through
// the control socket. The schema is spec.md §4.J's, published atomically
// via pkg/fs.WriteFileAtomic, the same temp-file-then-rename idiom
// internal/builder/builder.go uses to publish a finished build.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ankitkpandey1/aetherless/internal/registry"
	"github.com/ankitkpandey1/aetherless/internal/ring"
	"github.com/ankitkpandey1/aetherless/internal/state"
	"github.com/ankitkpandey1/aetherless/pkg/fs"
)

// DefaultPath is where a Publisher writes its snapshot unless overridden
// with WithPath.
const DefaultPath = "/dev/shm/aetherless-stats.json"

// Snapshot is the published schema, matching spec §4.J exactly:
// {ts, registered, running, warm, cold_starts, restores: [ms...], ring_stats}.
type Snapshot struct {
	Timestamp  int64                 `json:"ts"`
	Registered int                   `json:"registered"`
	Running    int                   `json:"running"`
	Warm       int                   `json:"warm"`
	ColdStarts uint64                `json:"cold_starts"`
	Restores   []int64               `json:"restores"`
	RingStats  map[string]ring.Stats `json:"ring_stats"`
}

// RestoreTracker lets the publisher attribute a restore count and last
// latency to a function without the stats package depending on the
// snapshot manager directly (keeps the dependency graph a DAG).
type RestoreTracker interface {
	RestoreCount(functionID string) uint64
	LastRestoreMS(functionID string) (int64, bool)
}

// ColdStartTracker reports the process-wide cold-start counter, satisfied
// by *metrics.Registry.
type ColdStartTracker interface {
	ColdStarts() uint64
}

// Publisher periodically writes a Snapshot built from a Registry.
type Publisher struct {
	reg        *registry.Registry
	restores   RestoreTracker
	coldStarts ColdStartTracker
	path       string
	interval   time.Duration
}

// Option configures a Publisher beyond its required dependencies.
type Option func(*Publisher)

func WithPath(path string) Option {
	return func(p *Publisher) { p.path = path }
}

func WithInterval(interval time.Duration) Option {
	return func(p *Publisher) { p.interval = interval }
}

// WithColdStarts attaches the cold-start counter source. Without it,
// cold_starts is always published as 0.
func WithColdStarts(c ColdStartTracker) Option {
	return func(p *Publisher) { p.coldStarts = c }
}

func New(reg *registry.Registry, restores RestoreTracker, opts ...Option) *Publisher {
	p := &Publisher{
		reg:      reg,
		restores: restores,
		path:     DefaultPath,
		interval: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run publishes a snapshot every interval until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.publishOnce(); err != nil {
				return err
			}
		}
	}
}

func (p *Publisher) publishOnce() error {
	snap := p.buildSnapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling stats snapshot: %w", err)
	}
	return fs.WriteFileAtomic(p.path, data, 0o644)
}

func (p *Publisher) buildSnapshot() Snapshot {
	ids := p.reg.List()

	running := 0
	warm := 0
	restores := make([]int64, 0, len(ids))
	ringStats := make(map[string]ring.Stats, len(ids))

	for _, id := range ids {
		rec, ok := p.reg.Get(id)
		if !ok {
			continue
		}
		switch rec.State() {
		case state.Running:
			running++
		case state.WarmSnapshot:
			warm++
		}

		if p.restores != nil {
			if ms, ok := p.restores.LastRestoreMS(id); ok {
				restores = append(restores, ms)
			}
		}

		if rb := rec.RingBuffer(); rb != nil && rb.Ring != nil {
			ringStats[id] = rb.Ring.Stats()
		}
	}

	var coldStarts uint64
	if p.coldStarts != nil {
		coldStarts = p.coldStarts.ColdStarts()
	}

	return Snapshot{
		Timestamp:  time.Now().Unix(),
		Registered: len(ids),
		Running:    running,
		Warm:       warm,
		ColdStarts: coldStarts,
		Restores:   restores,
		RingStats:  ringStats,
	}
}
