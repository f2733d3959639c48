// Package sweeper expires UI confirmations that were left pending too long.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/spotter/internal/db"
	"github.com/zulandar/spotter/internal/models"
	"github.com/zulandar/spotter/internal/tools"
	"github.com/zulandar/spotter/internal/transcript"
	"go.uber.org/zap"
)

// cronParser accepts standard 5-field cron expressions.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Store is the transcript surface the sweeper needs.
type Store interface {
	PendingBefore(ctx context.Context, cutoff time.Time) ([]models.Message, error)
	UpdateStatus(ctx context.Context, messageID uint, status string) error
}

// Sweeper cancels pending messages older than a TTL on a cron schedule.
type Sweeper struct {
	store    Store
	repo     db.Repository
	schedule cron.Schedule
	ttl      time.Duration
	now      func() time.Time
	log      *zap.Logger
}

// Opts holds parameters for creating a Sweeper.
type Opts struct {
	Store    Store
	Repo     db.Repository // optional; plan rows follow their message when set
	Schedule string
	TTL      time.Duration
	Now      func() time.Time
	Logger   *zap.Logger
}

// New creates a Sweeper. The schedule must be a valid 5-field cron
// expression and the TTL positive.
func New(opts Opts) (*Sweeper, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("sweeper: store is required")
	}
	if opts.TTL <= 0 {
		return nil, fmt.Errorf("sweeper: ttl must be positive")
	}
	sched, err := cronParser.Parse(opts.Schedule)
	if err != nil {
		return nil, fmt.Errorf("sweeper: schedule %q: %w", opts.Schedule, err)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{
		store:    opts.Store,
		repo:     opts.Repo,
		schedule: sched,
		ttl:      opts.TTL,
		now:      now,
		log:      log,
	}, nil
}

// Next returns the wait until the next scheduled sweep.
func (s *Sweeper) Next() time.Duration {
	now := s.now()
	d := s.schedule.Next(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// RunOnce cancels every message that has been pending longer than the TTL
// and returns how many it cancelled. Messages that moved on concurrently
// are skipped.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.ttl)
	stale, err := s.store.PendingBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweeper: %w", err)
	}
	cancelled := 0
	for i := range stale {
		msg := &stale[i]
		if err := s.store.UpdateStatus(ctx, msg.ID, models.StatusCancelled); err != nil {
			if errors.Is(err, transcript.ErrInvalidTransition) || errors.Is(err, transcript.ErrNotFound) {
				s.log.Debug("pending message already resolved", zap.Uint("message_id", msg.ID))
				continue
			}
			return cancelled, fmt.Errorf("sweeper: cancel message %d: %w", msg.ID, err)
		}
		cancelled++
		msg.Status = models.StatusCancelled
		if s.repo != nil {
			if err := tools.SyncPlanStatus(ctx, s.repo, msg); err != nil {
				s.log.Warn("plan status not updated", zap.Uint("message_id", msg.ID), zap.Error(err))
			}
		}
		s.log.Info("expired pending confirmation",
			zap.Uint("message_id", msg.ID),
			zap.String("conversation_id", msg.ConversationID),
			zap.String("tool", msg.ToolName),
		)
	}
	return cancelled, nil
}

// Run sweeps on schedule until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	timer := time.NewTimer(s.Next())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if n, err := s.RunOnce(ctx); err != nil {
				s.log.Error("sweep failed", zap.Error(err))
			} else if n > 0 {
				s.log.Info("sweep complete", zap.Int("cancelled", n))
			}
			timer.Reset(s.Next())
		}
	}
}
