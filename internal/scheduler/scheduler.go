// Package scheduler runs periodic housekeeping: pruning processed webhook
// event rows past their retention window. Credit grants are never pruned;
// drained and expired rows stay on disk for audit.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/pixelmuse/pixelmuse/internal/clock"
	"github.com/pixelmuse/pixelmuse/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

const sweepLockKey = "scheduler:maintenance"

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Locker *ratelimit.Locker `optional:"true"`
	Config Config            `optional:"true"`
}

type Scheduler struct {
	db     *gorm.DB
	log    *zap.Logger
	cfg    Config
	clock  clock.Clock
	locker *ratelimit.Locker
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:     p.DB,
		log:    p.Log.Named("scheduler"),
		cfg:    p.Config.withDefaults(),
		clock:  p.Clock,
		locker: p.Locker,
	}, nil
}

// RunForever sweeps on the configured interval until ctx is cancelled.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep. With a locker configured, only one
// instance sweeps per interval; losing the lock race skips the sweep.
func (s *Scheduler) RunOnce(ctx context.Context) {
	if s.locker != nil {
		token, acquired, err := s.locker.TryLock(ctx, sweepLockKey, s.cfg.LockTTL)
		if err != nil {
			s.log.Warn("sweep lock unavailable", zap.Error(err))
		} else if !acquired {
			return
		} else {
			defer func() {
				if err := s.locker.Release(ctx, sweepLockKey, token); err != nil {
					s.log.Warn("sweep lock release failed", zap.Error(err))
				}
			}()
		}
	}

	if err := s.pruneWebhookEvents(ctx); err != nil {
		s.log.Error("webhook event prune failed", zap.Error(err))
	}
}

// pruneWebhookEvents deletes processed webhook rows older than the retention
// window, in batches to bound lock time. Unprocessed rows are kept so a
// failed reconciliation can still be replayed.
func (s *Scheduler) pruneWebhookEvents(ctx context.Context) error {
	cutoff := s.clock.Now().Add(-s.cfg.EventRetention)

	for {
		result := s.db.WithContext(ctx).Exec(
			`DELETE FROM webhook_events
			 WHERE id IN (
			   SELECT id FROM webhook_events
			   WHERE processed_at IS NOT NULL AND received_at < ?
			   LIMIT ?
			 )`,
			cutoff, s.cfg.DeleteBatchSize,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			s.log.Info("pruned webhook events",
				zap.Int64("rows", result.RowsAffected),
				zap.Time("cutoff", cutoff),
			)
		}
		if result.RowsAffected < int64(s.cfg.DeleteBatchSize) {
			return nil
		}
	}
}
