package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloudx-io/openbid/core"
	"github.com/cloudx-io/openbid/outbox"
)

// Memory is an in-process Store with the same conditional-write semantics
// as the Postgres implementation. It backs tests and single-node
// development; the mutex only serializes map access, correctness still
// rides on the version checks so engine-level race handling is exercised
// for real.
type Memory struct {
	mu       sync.Mutex
	listings map[uuid.UUID]core.Listing
	bids     map[uuid.UUID]core.Bid
	bidOrder map[uuid.UUID][]uuid.UUID // listing → bid IDs in acceptance order
	rules    map[uuid.UUID]core.AutoBidRule
	results  map[uuid.UUID]core.Result // keyed by listing ID
	outbox   []outbox.Record
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		listings: make(map[uuid.UUID]core.Listing),
		bids:     make(map[uuid.UUID]core.Bid),
		bidOrder: make(map[uuid.UUID][]uuid.UUID),
		rules:    make(map[uuid.UUID]core.AutoBidRule),
		results:  make(map[uuid.UUID]core.Result),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) CreateListing(_ context.Context, listing *core.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listings[listing.ID] = *listing
	return nil
}

func (m *Memory) GetListing(_ context.Context, id uuid.UUID) (*core.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &l, nil
}

func (m *Memory) UpdateListingCAS(_ context.Context, listing *core.Listing, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.casLocked(listing, expectedVersion)
}

// casLocked applies the version check and write under the held mutex.
func (m *Memory) casLocked(listing *core.Listing, expectedVersion int64) error {
	stored, ok := m.listings[listing.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != expectedVersion {
		return ErrVersionConflict
	}
	m.listings[listing.ID] = *listing
	return nil
}

func (m *Memory) AppendBid(_ context.Context, listing *core.Listing, bid *core.Bid, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.listings[listing.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != expectedVersion {
		return ErrVersionConflict
	}

	if prev, ok := m.bids[stored.HighestBidID]; ok && prev.Status == core.BidWinning {
		prev.Status = core.BidOutbid
		m.bids[prev.ID] = prev
	}
	m.bids[bid.ID] = *bid
	m.bidOrder[listing.ID] = append(m.bidOrder[listing.ID], bid.ID)
	m.listings[listing.ID] = *listing
	return nil
}

func (m *Memory) GetBid(_ context.Context, id uuid.UUID) (*core.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bids[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (m *Memory) ListBids(_ context.Context, listingID uuid.UUID) ([]core.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.bidOrder[listingID]
	bids := make([]core.Bid, 0, len(ids))
	for _, id := range ids {
		bids = append(bids, m.bids[id])
	}
	return bids, nil
}

func (m *Memory) ActiveAutoBidRules(_ context.Context, listingID uuid.UUID) ([]core.AutoBidRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rules := make([]core.AutoBidRule, 0)
	for _, r := range m.rules {
		if r.ListingID == listingID && r.Active {
			rules = append(rules, r)
		}
	}
	sort.Slice(rules, func(i, j int) bool {
		return rules[i].CreatedAt.Before(rules[j].CreatedAt)
	})
	return rules, nil
}

func (m *Memory) UpsertAutoBidRule(_ context.Context, rule *core.AutoBidRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.rules {
		if r.ListingID == rule.ListingID && r.BidderID == rule.BidderID && r.Active {
			r.Active = false
			m.rules[id] = r
		}
	}
	m.rules[rule.ID] = *rule
	return nil
}

func (m *Memory) DeactivateAutoBidRules(_ context.Context, listingID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.rules {
		if r.ListingID == listingID && r.Active {
			r.Active = false
			m.rules[id] = r
		}
	}
	return nil
}

func (m *Memory) InsertResult(_ context.Context, result *core.Result, event *outbox.EscrowHoldRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.results[result.ListingID]; exists {
		return ErrDuplicateResult
	}
	m.results[result.ListingID] = *result

	if event != nil {
		payload, err := outbox.Encode(event)
		if err != nil {
			return err
		}
		m.outbox = append(m.outbox, outbox.Record{
			ID:        result.ID,
			Payload:   payload,
			CreatedAt: event.CreatedAt,
		})
	}
	return nil
}

func (m *Memory) GetResult(_ context.Context, listingID uuid.UUID) (*core.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[listingID]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *Memory) ListExpired(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uuid.UUID, 0)
	for id, l := range m.listings {
		if l.Status.Terminal() {
			continue
		}
		if !l.EndsAt.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *Memory) PendingEscrowEvents(_ context.Context, limit int) ([]outbox.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pending := make([]outbox.Record, 0)
	for _, rec := range m.outbox {
		if rec.SentAt.IsZero() {
			pending = append(pending, rec)
			if len(pending) == limit {
				break
			}
		}
	}
	return pending, nil
}

func (m *Memory) MarkEscrowEventSent(_ context.Context, id uuid.UUID, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.outbox {
		if m.outbox[i].ID == id {
			if m.outbox[i].SentAt.IsZero() {
				m.outbox[i].SentAt = sentAt
			}
			return nil
		}
	}
	return ErrNotFound
}
