package benefit

import (
	"sort"

	"benefix/internal/core/types"
)

// RawValue resolves a discount expression against its base amount.
// The base is fixed per candidate type and computed once, before any
// allocation; it is not re-derived against a shrinking remaining balance.
func RawValue(dt DiscountType, value, base types.Money) types.Money {
	if dt == DiscountPercentage {
		return types.Percent(base, value)
	}
	return value
}

// CandidateFromRule builds a candidate from a discount rule. The base is
// the line total for item-scoped rules and the subtotal otherwise.
func CandidateFromRule(r *DiscountRule, base types.Money, source SourceType) Candidate {
	return Candidate{
		Source:   source,
		SourceID: r.ID,
		Name:     r.Name,
		RawValue: RawValue(r.DiscountType, r.Value, base),
		Cap:      r.Cap,
		Priority: r.Priority,
	}
}

// CandidateFromBenefit builds a candidate from a customer benefit,
// computed against the transaction subtotal.
func CandidateFromBenefit(b *CustomerBenefit, subtotal types.Money) Candidate {
	return Candidate{
		Source:   SourceCustomer,
		SourceID: b.ID,
		Name:     b.Name,
		RawValue: RawValue(b.DiscountType, b.Value, subtotal),
		Cap:      b.Cap,
		Priority: b.Priority,
	}
}

// CandidateFromCoupon builds a candidate from a redeemed coupon, computed
// against the transaction subtotal. Coupons carry no merchant priority and
// allocate after configured discounts of the same (zero) priority.
func CandidateFromCoupon(c *Coupon, subtotal types.Money) Candidate {
	return Candidate{
		Source:   SourceCoupon,
		SourceID: c.ID,
		Name:     c.Code,
		RawValue: RawValue(c.DiscountType, c.Value, subtotal),
		Cap:      c.Cap,
	}
}

// Allocate turns candidate discounts into applied discounts against the
// transaction's remaining payable balance.
//
// This is a greedy, priority-ordered, remaining-balance-bounded allocation,
// not a globally-optimal one: merchants configure priority specifically to
// control stacking order, so predictability wins over optimality.
func Allocate(subtotal types.Money, candidates []Candidate) Allocation {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)

	// Equal priorities retain collection order. The stable tie-break is
	// observable and must be reproduced exactly for determinism.
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})

	remaining := subtotal
	discounts := make([]AppliedDiscount, 0, len(sorted))

	for _, c := range sorted {
		applied := AppliedDiscount{Candidate: c, AppliedAmount: types.Zero()}

		if remaining.IsPositive() {
			capped := c.RawValue
			if c.Cap != nil {
				capped = types.MinMoney(capped, *c.Cap)
			}

			amount := types.MinMoney(capped, remaining)
			if amount.IsPositive() {
				remaining = remaining.Sub(amount)
				applied.AppliedAmount = amount
				applied.Applied = true
			}
		}

		// Candidates that allocate nothing are still reported for
		// transparency, just with zero effect.
		discounts = append(discounts, applied)
	}

	return Allocation{
		Subtotal:      subtotal,
		Discounts:     discounts,
		TotalDiscount: subtotal.Sub(remaining),
		FinalAmount:   remaining,
	}
}
