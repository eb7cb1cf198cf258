package confirm

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically drops expired pending actions so abandoned
// confirmations do not accumulate. Removal goes through the store's
// normal atomic path, so a sweep can never interfere with a live token.
type Sweeper struct {
	store    Store
	interval time.Duration
	logger   *slog.Logger
	cron     *cron.Cron

	// OnSweep, when set, observes each sweep's removal count.
	OnSweep func(removed int)
}

// NewSweeper creates a sweeper over the given store.
func NewSweeper(store Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		logger:   logger.With("component", "confirm_sweeper"),
	}
}

// Start schedules the sweep and returns immediately.
func (s *Sweeper) Start() error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		n := s.store.Sweep(time.Now())
		if s.OnSweep != nil {
			s.OnSweep(n)
		}
		if n > 0 {
			s.logger.Info("expired pending actions swept", "count", n)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}
