package benefit

import (
	"context"
	"time"

	"benefix/internal/core/apperror"
	"benefix/internal/core/id"
	"benefix/internal/core/types"
	"benefix/pkg/logger"
)

// CollectResult holds the unordered candidate discounts for a transaction
// plus the coupons a caller may optionally redeem. Coupons are never
// auto-applied; they become candidates only through explicit redemption.
type CollectResult struct {
	Candidates       []Candidate
	AvailableCoupons []Coupon

	// Degraded lists benefit sources whose repository lookup failed and
	// which therefore contributed zero candidates.
	Degraded []string
}

// Collector orchestrates repository lookups and condition evaluation to
// produce candidate discounts. Pure with respect to its inputs; the only
// I/O is repository reads.
type Collector struct {
	repo Repository
}

// NewCollector creates a collector over the given rule repository.
func NewCollector(repo Repository) *Collector {
	return &Collector{repo: repo}
}

// Collect gathers candidate discounts from every configured benefit source.
//
// A repository error for any one source degrades that source to empty
// rather than aborting the whole collection: checkout must remain available
// even if discount configuration is temporarily unreachable. Degradation is
// logged as a warning, never swallowed silently.
func (c *Collector) Collect(ctx context.Context, trx Transaction, asOf time.Time, cache *Cache) CollectResult {
	if cache == nil {
		cache = NewCache()
	}

	subtotal := trx.Subtotal()
	result := CollectResult{}

	// 1. Customer benefits.
	if trx.CustomerID != nil {
		benefits, err := c.customerBenefits(ctx, *trx.CustomerID, asOf, cache)
		if err != nil {
			result.Degraded = c.degrade(ctx, result.Degraded, "customer_benefits", err)
		}
		for i := range benefits {
			b := &benefits[i]
			if !b.ActiveAt(asOf) || !b.MeetsMinOrder(subtotal) {
				continue
			}
			result.Candidates = append(result.Candidates, CandidateFromBenefit(b, subtotal))
		}
	}

	// 2. Item-scoped rules per line.
	for _, line := range trx.Lines {
		rules, err := c.itemRules(ctx, line.ItemID, asOf, cache)
		if err != nil {
			result.Degraded = c.degrade(ctx, result.Degraded, "item_rules", err)
			continue
		}

		lineTotal := line.Total()
		quantity := line.Quantity
		facts := Facts{
			Subtotal:  subtotal,
			Quantity:  &quantity,
			LineTotal: &lineTotal,
			Now:       asOf,
		}

		for i := range rules {
			r := &rules[i]
			if !c.ruleApplies(r, facts, lineTotal, asOf) {
				continue
			}
			result.Candidates = append(result.Candidates, CandidateFromRule(r, lineTotal, SourceItem))
		}
	}

	// 3. Order-scoped rules.
	orderRules, err := c.orderRules(ctx, asOf, cache)
	if err != nil {
		result.Degraded = c.degrade(ctx, result.Degraded, "order_rules", err)
	}
	orderFacts := Facts{Subtotal: subtotal, Now: asOf}
	for i := range orderRules {
		r := &orderRules[i]
		if !c.ruleApplies(r, orderFacts, subtotal, asOf) {
			continue
		}
		result.Candidates = append(result.Candidates, CandidateFromRule(r, subtotal, SourceOrder))
	}

	// 4. Loyalty program rules. Point earning is settled separately after
	// allocation and is not a discount candidate.
	if trx.CustomerID != nil {
		program, err := c.loyaltyProgram(ctx, *trx.CustomerID, cache)
		switch {
		case err != nil:
			result.Degraded = c.degrade(ctx, result.Degraded, "loyalty_program", err)
		case program != nil && program.Active:
			for i := range program.Rules {
				r := &program.Rules[i]
				if !c.ruleApplies(r, orderFacts, subtotal, asOf) {
					continue
				}
				result.Candidates = append(result.Candidates, CandidateFromRule(r, subtotal, SourceLoyalty))
			}
		}
	}

	// 5. Redeemable coupons, offered but not applied.
	coupons, err := c.repo.GetActiveCoupons(ctx, trx.CustomerID, asOf)
	if err != nil {
		result.Degraded = c.degrade(ctx, result.Degraded, "coupons", err)
	}
	for i := range coupons {
		cp := &coupons[i]
		if !cp.ActiveAt(asOf) || !cp.MeetsMinOrder(subtotal) || !cp.BoundTo(trx.CustomerID) {
			continue
		}
		result.AvailableCoupons = append(result.AvailableCoupons, *cp)
	}

	return result
}

// ruleApplies runs the shared eligibility checks for a rule candidate.
// Malformed rules are excluded here, logged once at load by Validate.
func (c *Collector) ruleApplies(r *DiscountRule, facts Facts, base types.Money, asOf time.Time) bool {
	if !r.ActiveAt(asOf) {
		return false
	}
	if r.MinAmount != nil && base.LessThan(*r.MinAmount) {
		return false
	}
	return r.Condition.Matches(facts)
}

func (c *Collector) customerBenefits(ctx context.Context, customerID id.ID, asOf time.Time, cache *Cache) ([]CustomerBenefit, error) {
	if benefits, ok := cache.getBenefits(customerID); ok {
		return benefits, nil
	}
	benefits, err := c.repo.GetCustomerBenefits(ctx, customerID, asOf)
	if err != nil {
		return nil, err
	}
	cache.putBenefits(customerID, benefits)
	return benefits, nil
}

func (c *Collector) itemRules(ctx context.Context, itemID id.ID, asOf time.Time, cache *Cache) ([]DiscountRule, error) {
	if rules, ok := cache.getItemRules(itemID); ok {
		return rules, nil
	}
	rules, err := c.repo.GetActiveItemRules(ctx, itemID, asOf)
	if err != nil {
		return nil, err
	}
	cache.putItemRules(itemID, rules)
	return rules, nil
}

func (c *Collector) orderRules(ctx context.Context, asOf time.Time, cache *Cache) ([]DiscountRule, error) {
	if rules, ok := cache.getOrderRules(); ok {
		return rules, nil
	}
	rules, err := c.repo.GetActiveOrderRules(ctx, asOf)
	if err != nil {
		return nil, err
	}
	cache.putOrderRules(rules)
	return rules, nil
}

// loyaltyProgram returns nil (no error) when the customer has no membership.
func (c *Collector) loyaltyProgram(ctx context.Context, customerID id.ID, cache *Cache) (*LoyaltyProgram, error) {
	if program, ok := cache.getProgram(customerID); ok {
		return program, nil
	}
	program, err := c.repo.GetLoyaltyProgram(ctx, customerID)
	if err != nil {
		if apperror.IsNotFound(err) {
			cache.putProgram(customerID, nil)
			return nil, nil
		}
		return nil, err
	}
	cache.putProgram(customerID, program)
	return program, nil
}

func (c *Collector) degrade(ctx context.Context, degraded []string, source string, err error) []string {
	logger.Warn(ctx, "benefit source unavailable, contributing zero candidates",
		"source", source,
		"error", err,
	)
	return append(degraded, source)
}
