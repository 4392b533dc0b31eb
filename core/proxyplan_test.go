package core

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/check"
)

func proxyListing() *Listing {
	l := testListing(ListingActive)
	return l
}

func rule(listing *Listing, bidder uuid.UUID, max int64, createdAt time.Time) AutoBidRule {
	return AutoBidRule{
		ID:        uuid.New(),
		ListingID: listing.ID,
		BidderID:  bidder,
		MaxAmount: max,
		Active:    true,
		CreatedAt: createdAt,
	}
}

func manualBid(listing *Listing, bidder uuid.UUID, amount int64) Bid {
	return Bid{
		ID:        uuid.New(),
		ListingID: listing.ID,
		BidderID:  bidder,
		Amount:    amount,
		Status:    BidWinning,
		PlacedAt:  testStart.Add(time.Hour),
	}
}

// The canonical scenario: rules A(max 200, earlier) and B(max 180), a
// manual bid of 150 from C with increment 10. A counter-bids once at
// min(200, 150+10) = 160 and dominates; B never reveals anything.
func TestPlanEscalation_TopRuleDominates(t *testing.T) {
	listing := proxyListing()
	bidderA, bidderB, bidderC := uuid.New(), uuid.New(), uuid.New()

	ruleA := rule(listing, bidderA, 200, testStart)
	ruleB := rule(listing, bidderB, 180, testStart.Add(time.Minute))
	accepted := manualBid(listing, bidderC, 150)

	plan := PlanEscalation(listing, accepted, []AutoBidRule{ruleB, ruleA})

	check.Equal(t, 1, len(plan.Steps))
	check.Equal(t, bidderA, plan.Steps[0].BidderID)
	check.Equal(t, ruleA.ID, plan.Steps[0].RuleID)
	check.Equal(t, int64(160), plan.Steps[0].Amount)
	check.False(t, plan.BuyNowReached)
}

// Replaying the same inputs must reproduce the same step sequence.
func TestPlanEscalation_Deterministic(t *testing.T) {
	listing := proxyListing()
	bidderA, bidderB, bidderC := uuid.New(), uuid.New(), uuid.New()

	rules := []AutoBidRule{
		rule(listing, bidderA, 200, testStart),
		rule(listing, bidderB, 180, testStart.Add(time.Minute)),
	}
	accepted := manualBid(listing, bidderC, 150)

	first := PlanEscalation(listing, accepted, rules)
	for i := 0; i < 10; i++ {
		again := PlanEscalation(listing, accepted, rules)
		check.Equal(t, first.Steps, again.Steps)
	}
}

func TestPlanEscalation_NoEligibleRules(t *testing.T) {
	listing := proxyListing()
	bidder := uuid.New()
	accepted := manualBid(listing, bidder, 150)

	// No rules at all.
	plan := PlanEscalation(listing, accepted, nil)
	check.Equal(t, 0, len(plan.Steps))

	// A dormant rule: ceiling below the required counter-bid.
	low := rule(listing, uuid.New(), 155, testStart)
	plan = PlanEscalation(listing, accepted, []AutoBidRule{low})
	check.Equal(t, 0, len(plan.Steps))

	// An inactive rule is never consulted.
	inactive := rule(listing, uuid.New(), 500, testStart)
	inactive.Active = false
	plan = PlanEscalation(listing, accepted, []AutoBidRule{inactive})
	check.Equal(t, 0, len(plan.Steps))
}

func TestPlanEscalation_OwnRuleNeverCountersItself(t *testing.T) {
	listing := proxyListing()
	bidder := uuid.New()
	accepted := manualBid(listing, bidder, 150)

	// The manual bidder's own rule must not outbid its own bid.
	own := rule(listing, bidder, 500, testStart)
	plan := PlanEscalation(listing, accepted, []AutoBidRule{own})
	check.Equal(t, 0, len(plan.Steps))
}

// Ties on ceiling resolve by creation time: the earlier rule wins.
func TestPlanEscalation_TieBreakByCreation(t *testing.T) {
	listing := proxyListing()
	early, late := uuid.New(), uuid.New()

	earlyRule := rule(listing, early, 200, testStart)
	lateRule := rule(listing, late, 200, testStart.Add(time.Second))
	accepted := manualBid(listing, uuid.New(), 150)

	plan := PlanEscalation(listing, accepted, []AutoBidRule{lateRule, earlyRule})

	check.True(t, len(plan.Steps) >= 1)
	check.Equal(t, early, plan.Steps[0].BidderID)
}

// Two standing rules dueling through the outbid party's own rule: the
// exchange walks up one increment at a time and the higher ceiling wins
// at one increment over the exhausted ceiling.
func TestPlanEscalation_RuleDuel(t *testing.T) {
	listing := proxyListing()
	bidderU, bidderV := uuid.New(), uuid.New()

	ruleU := rule(listing, bidderU, 150, testStart)
	ruleV := rule(listing, bidderV, 130, testStart.Add(time.Minute))
	accepted := manualBid(listing, bidderU, 100)

	plan := PlanEscalation(listing, accepted, []AutoBidRule{ruleU, ruleV})

	// V 110 → U 120 → V 130 (ceiling) → U 140.
	amounts := make([]int64, 0, len(plan.Steps))
	bidders := make([]uuid.UUID, 0, len(plan.Steps))
	for _, s := range plan.Steps {
		amounts = append(amounts, s.Amount)
		bidders = append(bidders, s.BidderID)
	}
	check.Equal(t, []int64{110, 120, 130, 140}, amounts)
	check.Equal(t, []uuid.UUID{bidderV, bidderU, bidderV, bidderU}, bidders)
}

func TestPlanEscalation_BuyNowReached(t *testing.T) {
	listing := proxyListing()
	listing.BuyNowPrice = 160
	bidderA := uuid.New()

	ruleA := rule(listing, bidderA, 300, testStart)
	accepted := manualBid(listing, uuid.New(), 150)

	plan := PlanEscalation(listing, accepted, []AutoBidRule{ruleA})

	check.Equal(t, 1, len(plan.Steps))
	check.Equal(t, int64(160), plan.Steps[0].Amount)
	check.True(t, plan.BuyNowReached)
}

// Amounts across any plan are strictly increasing, and the step count
// never exceeds the bound even with pathological rule sets.
func TestPlanEscalation_MonotonicAndBounded(t *testing.T) {
	listing := proxyListing()

	rules := make([]AutoBidRule, 0, 8)
	for i := 0; i < 8; i++ {
		rules = append(rules, rule(listing, uuid.New(), 200+int64(i), testStart.Add(time.Duration(i)*time.Second)))
	}
	accepted := manualBid(listing, uuid.New(), 150)

	plan := PlanEscalation(listing, accepted, rules)

	check.True(t, len(plan.Steps) <= len(rules)+1)
	prev := accepted.Amount
	for _, s := range plan.Steps {
		check.True(t, s.Amount > prev)
		prev = s.Amount
	}
}

func TestPlanEscalation_IgnoresOtherListings(t *testing.T) {
	listing := proxyListing()
	other := proxyListing()

	foreign := rule(other, uuid.New(), 500, testStart)
	accepted := manualBid(listing, uuid.New(), 150)

	plan := PlanEscalation(listing, accepted, []AutoBidRule{foreign})
	check.Equal(t, 0, len(plan.Steps))
}
