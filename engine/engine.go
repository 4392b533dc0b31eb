// Package engine implements the auction bidding and settlement engine:
// bid acceptance under optimistic concurrency, proxy-bid escalation, and
// exactly-once settlement. All cross-request coordination goes through
// the store's conditional writes, so any number of engine instances may
// serve the same auctions.
package engine

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/cloudx-io/openbid/core"
	"github.com/cloudx-io/openbid/store"
)

// defaultMaxRetries bounds the reload-revalidate-retry loop around lost
// CAS races before PlaceBid gives up with CONFLICT.
const defaultMaxRetries = 3

// Engine exposes the bidding and settlement operations to the API layer.
type Engine struct {
	store      store.Store
	clock      core.Clock
	log        *zap.Logger
	maxRetries int
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock injects a time source; tests use a fake.
func WithClock(c core.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger injects the structured logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithMaxRetries overrides the CAS retry bound.
func WithMaxRetries(n int) Option {
	return func(e *Engine) { e.maxRetries = n }
}

// New builds an Engine over the given store.
func New(st store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:      st,
		clock:      core.SystemClock{},
		log:        zap.NewNop(),
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PlaceBid validates and records a manual bid, then resolves any auto-bid
// escalation it triggers. On success it returns the accepted bid and the
// escalation bids in the order they were recorded.
//
// A lost CAS race is not a caller error: the engine reloads the fresh
// highest bid, revalidates the amount against the new minimum and retries,
// up to the retry bound, before returning CONFLICT.
func (e *Engine) PlaceBid(ctx context.Context, auctionID, bidderID uuid.UUID, amount int64) (*core.Bid, []core.Bid, error) {
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		listing, err := e.loadActivated(ctx, auctionID)
		if err != nil {
			return nil, nil, err
		}

		highest, err := e.highestBid(ctx, listing)
		if err != nil {
			return nil, nil, err
		}

		now := e.clock.Now()
		if err := core.ValidateBid(listing, highest, amount, now); err != nil {
			return nil, nil, err
		}

		bid := &core.Bid{
			ID:        uuid.New(),
			ListingID: listing.ID,
			BidderID:  bidderID,
			Amount:    amount,
			Status:    core.BidWinning,
			PlacedAt:  now,
		}

		expected := listing.Version
		listing.Version++
		listing.HighestBidID = bid.ID
		if err := e.store.AppendBid(ctx, listing, bid, expected); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				continue
			}
			if errors.Is(err, store.ErrNotFound) {
				return nil, nil, core.NewError(core.CodeAuctionNotFound, "auction %s not found", auctionID)
			}
			return nil, nil, errors.Wrap(err, "failed on append bid")
		}

		e.log.Info("bid accepted",
			zap.String("auction_id", listing.ID.String()),
			zap.String("bid_id", bid.ID.String()),
			zap.String("amount", core.FormatAmount(amount)),
		)

		escalations, err := e.resolveProxy(ctx, listing, *bid)
		if err != nil {
			return nil, nil, err
		}
		return bid, escalations, nil
	}

	return nil, nil, core.NewError(core.CodeConflict, "lost the race %d times; retry with a fresh amount", e.maxRetries)
}

// resolveProxy applies the deterministic escalation plan for a freshly
// accepted bid. Each step is one conditional write; a conflict mid-plan
// (another manual bid or a close racing in) re-plans from the fresh
// winning bid, bounded by the retry budget. When escalation reaches the
// buy-now price the auction settles immediately with that bid as winner.
func (e *Engine) resolveProxy(ctx context.Context, listing *core.Listing, accepted core.Bid) ([]core.Bid, error) {
	var recorded []core.Bid

	for attempt := 0; attempt < e.maxRetries; attempt++ {
		rules, err := e.store.ActiveAutoBidRules(ctx, listing.ID)
		if err != nil {
			return recorded, errors.Wrap(err, "failed on load auto-bid rules")
		}

		plan := core.PlanEscalation(listing, accepted, rules)

		conflicted := false
		for _, step := range plan.Steps {
			autoBid := &core.Bid{
				ID:        uuid.New(),
				ListingID: listing.ID,
				BidderID:  step.BidderID,
				Amount:    step.Amount,
				IsAutoBid: true,
				Status:    core.BidWinning,
				PlacedAt:  e.clock.Now(),
			}

			expected := listing.Version
			listing.Version++
			listing.HighestBidID = autoBid.ID
			if err := e.store.AppendBid(ctx, listing, autoBid, expected); err != nil {
				if errors.Is(err, store.ErrVersionConflict) {
					conflicted = true
					break
				}
				return recorded, errors.Wrap(err, "failed on append auto bid")
			}
			recorded = append(recorded, *autoBid)

			e.log.Info("proxy counter-bid recorded",
				zap.String("auction_id", listing.ID.String()),
				zap.String("rule_id", step.RuleID.String()),
				zap.String("amount", core.FormatAmount(step.Amount)),
			)
		}

		if !conflicted {
			if plan.BuyNowReached {
				if _, _, err := e.close(ctx, listing.ID, true); err != nil {
					return recorded, errors.Wrap(err, "failed on buy-now settlement")
				}
			}
			return recorded, nil
		}

		// Re-plan from the store's view of the world.
		fresh, err := e.store.GetListing(ctx, listing.ID)
		if err != nil {
			return recorded, errors.Wrap(err, "failed on reload listing")
		}
		if fresh.Status != core.ListingActive {
			return recorded, nil // closed under us; settlement owns it now
		}
		highest, err := e.highestBid(ctx, fresh)
		if err != nil {
			return recorded, err
		}
		if highest == nil {
			return recorded, nil
		}
		listing = fresh
		accepted = *highest
	}

	return recorded, nil
}

// GetHighestBid returns the current highest active bid, nil when the
// auction has none.
func (e *Engine) GetHighestBid(ctx context.Context, auctionID uuid.UUID) (*core.Bid, error) {
	listing, err := e.getListing(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	return e.highestBid(ctx, listing)
}

// IsAuctionActive reports whether the auction currently accepts bids. The
// answer accounts for pending lazy transitions: a scheduled listing past
// its start time counts as active, any listing past its end time does not.
func (e *Engine) IsAuctionActive(ctx context.Context, auctionID uuid.UUID) (bool, error) {
	listing, err := e.getListing(ctx, auctionID)
	if err != nil {
		return false, err
	}
	now := e.clock.Now()
	if !now.Before(listing.EndsAt) || listing.Status.Terminal() {
		return false, nil
	}
	if listing.Status == core.ListingScheduled {
		return !now.Before(listing.StartsAt), nil
	}
	return listing.Status == core.ListingActive, nil
}

// SetAutoBidRule registers a standing maximum for a bidder, replacing any
// previously active rule of the same bidder on the listing. A ceiling
// below the current floor is accepted but stays dormant until relevant.
func (e *Engine) SetAutoBidRule(ctx context.Context, auctionID, bidderID uuid.UUID, maxAmount int64) (*core.AutoBidRule, error) {
	if maxAmount <= 0 {
		return nil, core.NewError(core.CodeInvalidAmount, "auto-bid ceiling must be positive")
	}

	listing, err := e.getListing(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if listing.Status.Terminal() {
		return nil, core.NewError(core.CodeAuctionNotActive, "auction is %s", listing.Status)
	}

	rule := &core.AutoBidRule{
		ID:        uuid.New(),
		ListingID: listing.ID,
		BidderID:  bidderID,
		MaxAmount: maxAmount,
		Active:    true,
		CreatedAt: e.clock.Now(),
	}
	if err := e.store.UpsertAutoBidRule(ctx, rule); err != nil {
		return nil, errors.Wrap(err, "failed on upsert auto-bid rule")
	}

	e.log.Info("auto-bid rule set",
		zap.String("auction_id", auctionID.String()),
		zap.String("bidder_id", bidderID.String()),
		zap.String("max_amount", core.FormatAmount(maxAmount)),
	)
	return rule, nil
}

// loadActivated loads a listing and applies the lazy scheduled→active
// transition when its start time has passed. Losing the activation race
// is a no-op; the fresh row is reloaded.
func (e *Engine) loadActivated(ctx context.Context, auctionID uuid.UUID) (*core.Listing, error) {
	listing, err := e.getListing(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	if listing.Status == core.ListingScheduled && !e.clock.Now().Before(listing.StartsAt) {
		expected := listing.Version
		listing.Version++
		listing.Status = core.ListingActive
		err := e.store.UpdateListingCAS(ctx, listing, expected)
		switch {
		case err == nil:
		case errors.Is(err, store.ErrVersionConflict):
			return e.getListing(ctx, auctionID)
		default:
			return nil, errors.Wrap(err, "failed on activate listing")
		}
	}
	return listing, nil
}

func (e *Engine) getListing(ctx context.Context, auctionID uuid.UUID) (*core.Listing, error) {
	listing, err := e.store.GetListing(ctx, auctionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, core.NewError(core.CodeAuctionNotFound, "auction %s not found", auctionID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed on load listing")
	}
	return listing, nil
}

func (e *Engine) highestBid(ctx context.Context, listing *core.Listing) (*core.Bid, error) {
	if listing.HighestBidID == uuid.Nil {
		return nil, nil
	}
	bid, err := e.store.GetBid(ctx, listing.HighestBidID)
	if err != nil {
		return nil, errors.Wrap(err, "failed on load highest bid")
	}
	return bid, nil
}
