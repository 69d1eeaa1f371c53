package ledger

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Manager runs retention over a ledger store: conversations idle past a
// configured age are pruned, optionally on a cron schedule.
type Manager struct {
	store   Store
	maxIdle time.Duration
	cron    *cron.Cron
}

// NewManager creates a retention manager. maxIdle <= 0 disables pruning.
func NewManager(store Store, maxIdle time.Duration) *Manager {
	return &Manager{
		store:   store,
		maxIdle: maxIdle,
	}
}

// PruneIdle resets every conversation whose last update is older than the
// idle limit. It returns the number of conversations pruned.
func (m *Manager) PruneIdle(ctx context.Context) (int, error) {
	if m.maxIdle <= 0 {
		return 0, nil
	}

	infos, err := m.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list conversations: %w", err)
	}

	cutoff := time.Now().Add(-m.maxIdle)
	pruned := 0
	for _, info := range infos {
		if info.UpdatedAt.IsZero() || info.UpdatedAt.After(cutoff) {
			continue
		}
		if err := m.store.Reset(ctx, info.ID); err != nil {
			return pruned, fmt.Errorf("prune %s: %w", info.ID, err)
		}
		pruned++
	}
	return pruned, nil
}

// Start schedules PruneIdle on a cron expression (e.g. "@hourly") and runs
// until Stop. It returns an error for an invalid schedule.
func (m *Manager) Start(schedule string) error {
	if m.cron != nil {
		return fmt.Errorf("retention already started")
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		pruned, err := m.PruneIdle(ctx)
		if err != nil {
			log.Printf("ledger retention: %v", err)
			return
		}
		if pruned > 0 {
			log.Printf("ledger retention: pruned %d idle conversations", pruned)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}

	m.cron = c
	c.Start()
	return nil
}

// Stop halts the retention schedule.
func (m *Manager) Stop() {
	if m.cron != nil {
		m.cron.Stop()
		m.cron = nil
	}
}
