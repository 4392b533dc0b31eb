package core

import (
	"sort"

	"github.com/google/uuid"
)

// ProxyStep is one counter-bid the proxy engine plans on behalf of a
// standing rule. Steps are applied in order; each outbids the previous
// winning bid.
type ProxyStep struct {
	RuleID   uuid.UUID
	BidderID uuid.UUID
	Amount   int64
}

// EscalationPlan is the deterministic outcome of resolving standing
// auto-bid rules against a just-accepted bid.
type EscalationPlan struct {
	// Steps is the ordered sequence of counter-bids to record. Empty when
	// the accepted bid stands.
	Steps []ProxyStep

	// BuyNowReached is set when the final planned amount reached the
	// listing's buy-now price; the caller must settle immediately.
	BuyNowReached bool
}

// PlanEscalation resolves the listing's active auto-bid rules after the
// bid `accepted` has been recorded as winning. It is a pure function:
// given the same rules and the same accepted bid it produces the same
// step sequence, so an audit replay reproduces the exact bid history.
//
// The publicly visible price only ever rises one increment above the
// strongest challenger; a rule's true ceiling is never revealed unless it
// is actually exhausted. Escalation is an explicit bounded loop, never
// unbounded recursion.
func PlanEscalation(listing *Listing, accepted Bid, rules []AutoBidRule) EscalationPlan {
	plan := EscalationPlan{}

	active := make([]AutoBidRule, 0, len(rules))
	for _, r := range rules {
		if r.Active && r.ListingID == listing.ID {
			active = append(active, r)
		}
	}
	sortRules(active)

	curBidder := accepted.BidderID
	curAmount := accepted.Amount
	inc := listing.BidIncrement

	// Hard cap on the loop: every counter-bid raises the price by
	// exactly one increment (eligibility requires the ceiling to cover
	// it), so the walk from the accepted amount to the highest ceiling
	// bounds the step count. A non-positive increment plans nothing.
	maxSteps := 0
	if inc > 0 {
		var top int64
		for _, r := range active {
			if r.MaxAmount > top {
				top = r.MaxAmount
			}
		}
		if top > curAmount {
			maxSteps = int((top-curAmount)/inc) + 2
		}
	}

	for steps := 0; steps < maxSteps; steps++ {
		top := topChallenger(active, curBidder, curAmount+inc)
		if top == nil {
			break
		}

		counter := curAmount + inc
		if top.MaxAmount < counter {
			counter = top.MaxAmount
		}

		prevBidder := curBidder
		plan.Steps = append(plan.Steps, ProxyStep{
			RuleID:   top.ID,
			BidderID: top.BidderID,
			Amount:   counter,
		})
		curBidder = top.BidderID
		curAmount = counter

		if listing.HasBuyNow() && counter >= listing.BuyNowPrice {
			plan.BuyNowReached = true
			break
		}

		// The top rule counter-bid below its ceiling while another
		// challenger still sits under it: it dominates at this price and
		// nothing further may be revealed. The outbid party's own rule is
		// not a challenger here; it gets its chance below.
		if counter < top.MaxAmount && hasChallengerAbove(active, top.ID, prevBidder, counter) {
			break
		}

		// Only the party just outbid may continue the exchange, and only
		// through its own standing rule.
		own := ruleOf(active, prevBidder)
		if own == nil || own.MaxAmount < curAmount+inc {
			break
		}
	}

	return plan
}

// sortRules totally orders rules: ceiling descending, then creation time
// ascending (first-come priority on ties), then ID as the final tiebreak.
func sortRules(rules []AutoBidRule) {
	sort.Slice(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.MaxAmount != b.MaxAmount {
			return a.MaxAmount > b.MaxAmount
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
}

// topChallenger returns the strongest rule not owned by the current
// winner whose ceiling covers the required counter-bid, or nil.
// rules must already be sorted by sortRules.
func topChallenger(rules []AutoBidRule, curBidder uuid.UUID, required int64) *AutoBidRule {
	for i := range rules {
		r := &rules[i]
		if r.BidderID == curBidder {
			continue
		}
		if r.MaxAmount >= required {
			return r
		}
	}
	return nil
}

func hasChallengerAbove(rules []AutoBidRule, excludeID uuid.UUID, excludeBidder uuid.UUID, amount int64) bool {
	for i := range rules {
		r := &rules[i]
		if r.ID == excludeID || r.BidderID == excludeBidder {
			continue
		}
		if r.MaxAmount > amount {
			return true
		}
	}
	return false
}

func ruleOf(rules []AutoBidRule, bidderID uuid.UUID) *AutoBidRule {
	for i := range rules {
		if rules[i].BidderID == bidderID {
			return &rules[i]
		}
	}
	return nil
}
