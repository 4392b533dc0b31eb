package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cloudx-io/openbid/core"
)

// Sweeper closes expired auctions on a fixed interval. It is a
// convenience scheduler for single-cluster deployments; because Close is
// idempotent, running sweepers on several instances at once is harmless.
type Sweeper struct {
	engine      *Engine
	interval    time.Duration
	batchSize   int
	concurrency int
	log         *zap.Logger
}

// NewSweeper builds a sweeper over the engine.
func NewSweeper(e *Engine, interval time.Duration, batchSize, concurrency int, log *zap.Logger) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{
		engine:      e,
		interval:    interval,
		batchSize:   batchSize,
		concurrency: concurrency,
		log:         log,
	}
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.log.Info("expiry sweeper started",
		zap.Duration("interval", s.interval),
		zap.Int("batch_size", s.batchSize),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("expiry sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				s.log.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce closes every currently expired auction, fanning out over the
// configured concurrency. Individual close failures are logged and do not
// abort the batch; only listing the batch itself can fail the sweep.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	ids, err := s.engine.store.ListExpired(ctx, s.engine.clock.Now(), s.batchSize)
	if err != nil {
		return errors.Wrap(err, "failed on list expired auctions")
	}
	if len(ids) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			result, err := s.engine.CloseAuction(gctx, id)
			if err != nil {
				// AUCTION_NOT_ENDED means a bid-driven activation raced
				// our listing read; the next sweep gets it.
				if !core.IsCode(err, core.CodeAuctionNotEnded) {
					s.log.Error("failed on close expired auction",
						zap.String("auction_id", id.String()),
						zap.Error(err),
					)
				}
				return nil
			}
			s.log.Info("expired auction closed",
				zap.String("auction_id", id.String()),
				zap.String("status", string(result.Status)),
			)
			return nil
		})
	}
	return g.Wait()
}
