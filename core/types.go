package core

import (
	"time"

	"github.com/google/uuid"
)

// AuctionType selects the pricing mechanism for a listing.
type AuctionType string

const (
	AuctionTypeEnglish AuctionType = "english"
	AuctionTypeDutch   AuctionType = "dutch"
	AuctionTypeSealed  AuctionType = "sealed"
	AuctionTypeReserve AuctionType = "reserve"
)

// ListingStatus is the lifecycle state of a listing.
// Transitions are scheduled → active → {ended, cancelled}; the terminal
// states are immutable.
type ListingStatus string

const (
	ListingScheduled ListingStatus = "scheduled"
	ListingActive    ListingStatus = "active"
	ListingEnded     ListingStatus = "ended"
	ListingCancelled ListingStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s ListingStatus) Terminal() bool {
	return s == ListingEnded || s == ListingCancelled
}

// BidStatus is the lifecycle state of a bid. A bid is immutable after
// creation except for this field.
type BidStatus string

const (
	BidWinning   BidStatus = "winning"
	BidOutbid    BidStatus = "outbid"
	BidRetracted BidStatus = "retracted"
)

// ResultStatus is the settlement outcome of a closed listing.
type ResultStatus string

const (
	ResultPendingPayment ResultStatus = "pending_payment"
	ResultNoSale         ResultStatus = "no_sale"
	ResultCancelled      ResultStatus = "cancelled"
)

// Listing is the sellable unit under bidding. All monetary fields are in
// minor units of Currency. ReservePrice and BuyNowPrice use 0 for "not set".
type Listing struct {
	ID            uuid.UUID     `json:"id"`
	SellerID      uuid.UUID     `json:"seller_id"`
	Type          AuctionType   `json:"auction_type"`
	StartingPrice int64         `json:"starting_price"`
	ReservePrice  int64         `json:"reserve_price,omitempty"`
	BuyNowPrice   int64         `json:"buy_now_price,omitempty"`
	BidIncrement  int64         `json:"bid_increment"`
	Currency      string        `json:"currency"`
	StartsAt      time.Time     `json:"starts_at"`
	EndsAt        time.Time     `json:"ends_at"`
	Status        ListingStatus `json:"status"`

	// Version is the optimistic concurrency counter; every conditional
	// write is keyed on it and bumps it by one.
	Version int64 `json:"version"`

	// HighestBidID denormalizes the current winning bid for O(1) reads.
	// uuid.Nil when no bid has been accepted.
	HighestBidID uuid.UUID `json:"highest_bid_id,omitempty"`
}

// HasReserve reports whether the listing carries a reserve price.
func (l *Listing) HasReserve() bool { return l.ReservePrice > 0 }

// HasBuyNow reports whether the listing carries a buy-now price.
func (l *Listing) HasBuyNow() bool { return l.BuyNowPrice > 0 }

// Bid is one bidder's offer on a listing.
type Bid struct {
	ID        uuid.UUID `json:"id"`
	ListingID uuid.UUID `json:"listing_id"`
	BidderID  uuid.UUID `json:"bidder_id"`
	Amount    int64     `json:"amount"`
	IsAutoBid bool      `json:"is_auto_bid"`
	Status    BidStatus `json:"status"`
	PlacedAt  time.Time `json:"placed_at"`
}

// AutoBidRule is a standing instruction to bid on a bidder's behalf up to
// MaxAmount. At most one active rule exists per (listing, bidder);
// CreatedAt is the tie-break priority when ceilings are equal.
type AutoBidRule struct {
	ID        uuid.UUID `json:"id"`
	ListingID uuid.UUID `json:"listing_id"`
	BidderID  uuid.UUID `json:"bidder_id"`
	MaxAmount int64     `json:"max_amount"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Result is the settlement outcome, written exactly once per listing.
// WinningBidID, WinnerID and FinalPrice are set iff Status is
// ResultPendingPayment.
type Result struct {
	ID           uuid.UUID    `json:"id"`
	ListingID    uuid.UUID    `json:"listing_id"`
	WinningBidID uuid.UUID    `json:"winning_bid_id,omitempty"`
	WinnerID     uuid.UUID    `json:"winner_id,omitempty"`
	FinalPrice   int64        `json:"final_price,omitempty"`
	Status       ResultStatus `json:"status"`
	ClosedAt     time.Time    `json:"closed_at"`
}
