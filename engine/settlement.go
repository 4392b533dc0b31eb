package engine

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/cloudx-io/openbid/core"
	"github.com/cloudx-io/openbid/outbox"
	"github.com/cloudx-io/openbid/store"
)

// CloseAuction settles the auction exactly once. Duplicate and concurrent
// calls (scheduler retries, racing timers) all converge on the same
// settlement result without error.
func (e *Engine) CloseAuction(ctx context.Context, auctionID uuid.UUID) (*core.Result, error) {
	result, _, err := e.close(ctx, auctionID, false)
	return result, err
}

// ForceClose is the administrative close: it settles like CloseAuction
// but reports ALREADY_CLOSED when the auction was already terminal, so
// the caller learns whether this call changed state. The existing result
// is still returned alongside that error.
func (e *Engine) ForceClose(ctx context.Context, auctionID uuid.UUID) (*core.Result, error) {
	result, changed, err := e.close(ctx, auctionID, true)
	if err != nil {
		return nil, err
	}
	if !changed {
		return result, core.NewError(core.CodeAlreadyClosed, "auction %s was already settled", auctionID)
	}
	return result, nil
}

// CancelAuction terminally cancels a listing. Permitted from scheduled,
// or from active while no bid has been accepted; a listing with accepted
// bids must run to settlement instead.
func (e *Engine) CancelAuction(ctx context.Context, auctionID uuid.UUID, reason string) (*core.Result, error) {
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		listing, err := e.getListing(ctx, auctionID)
		if err != nil {
			return nil, err
		}
		if listing.Status.Terminal() {
			return nil, core.NewError(core.CodeAlreadyClosed, "auction %s is %s", auctionID, listing.Status)
		}
		if listing.HighestBidID != uuid.Nil {
			return nil, core.NewError(core.CodeCancelForbidden, "auction %s has accepted bids", auctionID)
		}

		expected := listing.Version
		listing.Version++
		listing.Status = core.ListingCancelled
		if err := e.store.UpdateListingCAS(ctx, listing, expected); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				continue
			}
			return nil, errors.Wrap(err, "failed on cancel listing")
		}

		result := &core.Result{
			ID:        uuid.New(),
			ListingID: listing.ID,
			Status:    core.ResultCancelled,
			ClosedAt:  e.clock.Now(),
		}
		if err := e.persistResult(ctx, listing, result, nil); err != nil {
			return nil, err
		}

		e.log.Info("auction cancelled",
			zap.String("auction_id", auctionID.String()),
			zap.String("reason", reason),
		)
		return result, nil
	}
	return nil, core.NewError(core.CodeConflict, "lost the cancellation race %d times", e.maxRetries)
}

// close flips the listing to ended and writes the settlement result.
// force permits closing before the end time (admin close, buy-now).
// The returned bool reports whether this call performed the transition.
func (e *Engine) close(ctx context.Context, auctionID uuid.UUID, force bool) (*core.Result, bool, error) {
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		listing, err := e.getListing(ctx, auctionID)
		if err != nil {
			return nil, false, err
		}

		// A terminal listing already has its canonical result: return it
		// rather than erroring, whatever raced us there.
		if listing.Status.Terminal() {
			result, err := e.store.GetResult(ctx, auctionID)
			if errors.Is(err, store.ErrNotFound) {
				// We lost the status CAS and the winner has not written
				// its result yet. The bid ledger is frozen once the
				// status is terminal, so computing the outcome here and
				// racing the unique insert converges on the same row.
				result, err = e.raceResultInsert(ctx, listing)
			}
			if err != nil {
				return nil, false, errors.Wrap(err, "failed on read settled result")
			}
			return result, false, nil
		}

		if !force && e.clock.Now().Before(listing.EndsAt) {
			return nil, false, core.NewError(core.CodeAuctionNotEnded,
				"auction %s runs until %s", auctionID, listing.EndsAt)
		}

		expected := listing.Version
		listing.Version++
		listing.Status = core.ListingEnded
		if err := e.store.UpdateListingCAS(ctx, listing, expected); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				continue
			}
			return nil, false, errors.Wrap(err, "failed on end listing")
		}

		result, event, err := e.decideOutcome(ctx, listing)
		if err != nil {
			return nil, false, err
		}
		if err := e.persistResult(ctx, listing, result, event); err != nil {
			return nil, false, err
		}

		if err := e.store.DeactivateAutoBidRules(ctx, auctionID); err != nil {
			return nil, false, errors.Wrap(err, "failed on deactivate rules")
		}

		e.log.Info("auction settled",
			zap.String("auction_id", auctionID.String()),
			zap.String("status", string(result.Status)),
			zap.String("final_price", core.FormatAmount(result.FinalPrice)),
		)
		return result, true, nil
	}
	return nil, false, core.NewError(core.CodeConflict, "lost the close race %d times", e.maxRetries)
}

// raceResultInsert computes the outcome for an already-terminal listing
// and inserts it under the unique key. Whichever closer wins the insert,
// everyone returns the canonical row.
func (e *Engine) raceResultInsert(ctx context.Context, listing *core.Listing) (*core.Result, error) {
	var (
		result *core.Result
		event  *outbox.EscrowHoldRequest
		err    error
	)
	if listing.Status == core.ListingCancelled {
		result = &core.Result{
			ID:        uuid.New(),
			ListingID: listing.ID,
			Status:    core.ResultCancelled,
			ClosedAt:  e.clock.Now(),
		}
	} else {
		result, event, err = e.decideOutcome(ctx, listing)
		if err != nil {
			return nil, err
		}
	}

	if err := e.store.InsertResult(ctx, result, event); err != nil {
		if !errors.Is(err, store.ErrDuplicateResult) {
			return nil, errors.Wrap(err, "failed on insert result")
		}
		return e.store.GetResult(ctx, listing.ID)
	}
	return result, nil
}

// decideOutcome maps the listing's final bid state onto a settlement
// result: no bids → no sale; reserve unmet → no sale with no winner
// fields (the highest bidder stays visible on the listing but owes
// nothing); otherwise the highest bid wins at its own amount.
func (e *Engine) decideOutcome(ctx context.Context, listing *core.Listing) (*core.Result, *outbox.EscrowHoldRequest, error) {
	result := &core.Result{
		ID:        uuid.New(),
		ListingID: listing.ID,
		Status:    core.ResultNoSale,
		ClosedAt:  e.clock.Now(),
	}

	highest, err := e.highestBid(ctx, listing)
	if err != nil {
		return nil, nil, err
	}
	if highest == nil {
		return result, nil, nil
	}
	if listing.HasReserve() && highest.Amount < listing.ReservePrice {
		return result, nil, nil
	}

	result.Status = core.ResultPendingPayment
	result.WinningBidID = highest.ID
	result.WinnerID = highest.BidderID
	result.FinalPrice = highest.Amount

	event := &outbox.EscrowHoldRequest{
		ResultID:  result.ID,
		ListingID: listing.ID,
		WinnerID:  highest.BidderID,
		SellerID:  listing.SellerID,
		Amount:    highest.Amount,
		Currency:  listing.Currency,
		CreatedAt: result.ClosedAt,
	}
	return result, event, nil
}

// persistResult inserts the result under the listing-unique key. A
// duplicate means a racing closer computed the outcome from the same
// frozen ledger and won the insert; the canonical row is read back so
// every caller returns the same settlement.
func (e *Engine) persistResult(ctx context.Context, listing *core.Listing, result *core.Result, event *outbox.EscrowHoldRequest) error {
	err := e.store.InsertResult(ctx, result, event)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrDuplicateResult) {
		return errors.Wrap(err, "failed on insert result")
	}

	e.log.Warn("settlement result insert raced; converging on canonical row",
		zap.String("auction_id", listing.ID.String()),
	)
	existing, err := e.store.GetResult(ctx, listing.ID)
	if err != nil {
		return errors.Wrap(err, "failed on read canonical result")
	}
	*result = *existing
	return nil
}
