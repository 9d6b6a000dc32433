package backup

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sony/gobreaker"
)

// StartScheduler runs automatic full backups at the configured interval,
// each followed by retention cleanup. It blocks until the context is
// cancelled or StopScheduler is called; a failure inside a scheduled run
// never terminates the loop.
//
// Consecutive failing runs trip a circuit breaker, so a persistently
// failing disk is not hammered with full-archive I/O on every tick; the
// breaker re-admits attempts after a cool-down of one interval.
func (m *Manager) StartScheduler(ctx context.Context) error {
	m.schedMu.Lock()
	if m.running {
		m.schedMu.Unlock()
		return fmt.Errorf("backup scheduler is already running")
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.schedMu.Unlock()

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "backup-scheduler",
		Timeout: m.interval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("backup: scheduler breaker %s -> %s", from, to)
		},
	})

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	log.Printf("backup: scheduler started (interval=%v)", m.interval)

	for {
		select {
		case <-ctx.Done():
			log.Printf("backup: scheduler stopping (context cancelled)")
			m.markStopped()
			return ctx.Err()

		case <-m.stopCh:
			log.Printf("backup: scheduler stopping (stop requested)")
			return nil

		case <-ticker.C:
			m.runScheduled(ctx, breaker)
		}
	}
}

// runScheduled performs one scheduled backup plus retention cleanup.
// Errors are logged, never propagated: the loop must survive any single
// failed run.
func (m *Manager) runScheduled(ctx context.Context, breaker *gobreaker.CircuitBreaker) {
	_, err := breaker.Execute(func() (any, error) {
		entry, err := m.CreateFullBackup(ctx, "scheduled backup")
		if err != nil {
			return nil, err
		}
		if !entry.Success {
			return nil, fmt.Errorf("scheduled backup %s failed: %s", entry.ID, entry.ErrorMessage)
		}
		return entry, nil
	})
	if err == gobreaker.ErrOpenState {
		log.Printf("backup: scheduled run skipped, breaker open")
		return
	}
	if err != nil {
		log.Printf("backup: scheduled run failed: %v", err)
		return
	}

	if deleted, err := m.CleanupRetention(); err != nil {
		log.Printf("backup: retention cleanup failed: %v", err)
	} else if deleted > 0 {
		log.Printf("backup: retention cleanup removed %d backups", deleted)
	}
}

// StopScheduler stops the scheduler loop. It is an error to call it when
// the scheduler is not running.
func (m *Manager) StopScheduler() error {
	m.schedMu.Lock()
	defer m.schedMu.Unlock()

	if !m.running {
		return fmt.Errorf("backup scheduler is not running")
	}
	close(m.stopCh)
	m.running = false
	return nil
}

func (m *Manager) markStopped() {
	m.schedMu.Lock()
	defer m.schedMu.Unlock()
	m.running = false
}
