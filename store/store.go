// Package store defines the durable storage boundary of the engine and
// its two implementations: an in-memory store for tests and development,
// and a Postgres store for production.
//
// All cross-request coordination happens through this boundary's
// conditional-write primitives, never through in-process locks, so
// multiple engine instances may run against the same database.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/cloudx-io/openbid/core"
	"github.com/cloudx-io/openbid/outbox"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrVersionConflict is returned when a conditional write lost the
	// optimistic-concurrency race; the caller reloads and retries.
	ErrVersionConflict = errors.New("store: version conflict")

	// ErrDuplicateResult is returned when a second settlement result is
	// inserted for the same listing; the caller reads back the winner of
	// the race and converges on it.
	ErrDuplicateResult = errors.New("store: result already exists for listing")
)

// Store is the engine's durable storage contract.
//
// Writes that touch a listing row are keyed on the listing's version and
// must fail with ErrVersionConflict when the stored version differs; on
// success they persist version+1. InsertResult must enforce a unique key
// on the listing ID and fail with ErrDuplicateResult on violation.
type Store interface {
	// CreateListing persists a new listing in its initial state.
	CreateListing(ctx context.Context, listing *core.Listing) error

	// GetListing loads a listing, ErrNotFound when absent.
	GetListing(ctx context.Context, id uuid.UUID) (*core.Listing, error)

	// UpdateListingCAS conditionally writes the listing keyed on
	// expectedVersion. listing.Version must already be expectedVersion+1.
	UpdateListingCAS(ctx context.Context, listing *core.Listing, expectedVersion int64) error

	// AppendBid atomically, keyed on expectedVersion: inserts bid as
	// winning, marks the previously winning bid outbid, and updates the
	// listing's HighestBidID and version.
	AppendBid(ctx context.Context, listing *core.Listing, bid *core.Bid, expectedVersion int64) error

	// GetBid loads a bid, ErrNotFound when absent.
	GetBid(ctx context.Context, id uuid.UUID) (*core.Bid, error)

	// ListBids returns all bids for a listing in acceptance order.
	ListBids(ctx context.Context, listingID uuid.UUID) ([]core.Bid, error)

	// ActiveAutoBidRules returns the active rules for a listing.
	ActiveAutoBidRules(ctx context.Context, listingID uuid.UUID) ([]core.AutoBidRule, error)

	// UpsertAutoBidRule inserts rule and deactivates any previously
	// active rule of the same (listing, bidder) in one transaction.
	UpsertAutoBidRule(ctx context.Context, rule *core.AutoBidRule) error

	// DeactivateAutoBidRules deactivates every rule for the listing.
	DeactivateAutoBidRules(ctx context.Context, listingID uuid.UUID) error

	// InsertResult persists the settlement result under the unique key on
	// listing ID. When event is non-nil it is written in the same
	// transaction as a pending escrow outbox record.
	InsertResult(ctx context.Context, result *core.Result, event *outbox.EscrowHoldRequest) error

	// GetResult loads the settlement result for a listing, ErrNotFound
	// when the listing has not settled.
	GetResult(ctx context.Context, listingID uuid.UUID) (*core.Result, error)

	// ListExpired returns IDs of scheduled or active listings whose end
	// time is at or before now, capped at limit.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)

	outbox.Source
}
