package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/soochol/flowcast/internal/metrics"
	"github.com/soochol/flowcast/internal/ticket"
)

// Sweeper runs process-wide housekeeping on a cron scheduler. Today that is
// the ticket sweep; it runs independently of any connection.
type Sweeper struct {
	cron     *cron.Cron
	tickets  ticket.Store
	interval time.Duration
	metrics  *metrics.Metrics
}

// NewSweeper creates a Sweeper that reclaims used and expired tickets every
// interval.
func NewSweeper(tickets ticket.Store, interval time.Duration, m *metrics.Metrics) *Sweeper {
	return &Sweeper{
		cron:     cron.New(),
		tickets:  tickets,
		interval: interval,
		metrics:  m,
	}
}

// Start registers the jobs and starts the scheduler.
func (s *Sweeper) Start() {
	s.cron.Schedule(cron.Every(s.interval), cron.FuncJob(func() {
		s.SweepTickets(context.Background())
	}))
	s.cron.Start()
	slog.Info("sweeper: started", "interval", s.interval)
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("sweeper: stopped")
}

// SweepTickets runs one ticket sweep and returns the number reclaimed.
func (s *Sweeper) SweepTickets(ctx context.Context) int {
	n := s.tickets.Sweep(ctx)
	s.metrics.TicketsReclaimed(n)
	if n > 0 {
		slog.Debug("sweeper: reclaimed tickets", "count", n)
	}
	return n
}
