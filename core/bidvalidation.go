package core

import "time"

// MinAcceptableBid computes the lowest amount the listing will accept:
// current highest plus the increment when a highest bid exists, otherwise
// the starting price. highest may be nil.
func MinAcceptableBid(listing *Listing, highest *Bid) int64 {
	if highest == nil {
		return listing.StartingPrice
	}
	return highest.Amount + listing.BidIncrement
}

// ValidateBid runs the stateless acceptance checks for a manual bid.
// It performs no writes; the caller holds the freshest listing and highest
// bid it could load and retries on CAS conflict.
//
// The end-time cutoff is checked independently of Status because the lazy
// scheduled→active→ended transitions may not have been applied yet when
// the bid arrives.
func ValidateBid(listing *Listing, highest *Bid, amount int64, now time.Time) error {
	if amount <= 0 {
		return NewError(CodeInvalidAmount, "bid amount must be positive")
	}
	if !now.Before(listing.EndsAt) {
		return NewError(CodeAuctionEnded, "auction ended at %s", listing.EndsAt.Format(time.RFC3339))
	}
	if listing.Status != ListingActive {
		return NewError(CodeAuctionNotActive, "auction is %s", listing.Status)
	}
	if min := MinAcceptableBid(listing, highest); amount < min {
		return NewBidTooLow(min)
	}
	return nil
}
