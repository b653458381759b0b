package benefit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"benefix/internal/core/id"
	"benefix/internal/core/types"
)

func money(s string) types.Money { return types.MustMoney(s) }

func TestRawValue(t *testing.T) {
	assert.True(t, money("100").Equal(RawValue(DiscountPercentage, money("10"), money("1000"))))
	assert.True(t, money("50").Equal(RawValue(DiscountFixed, money("50"), money("1000"))))
}

func TestAllocate_PriorityOrderAndCap(t *testing.T) {
	// 1000 subtotal, a 10% discount capped at 80 and a flat 50.
	candidates := []Candidate{
		{SourceID: id.New(), Name: "flat fifty", RawValue: money("50"), Priority: 10},
		{SourceID: id.New(), Name: "ten percent", RawValue: money("100"), Cap: moneyPtr("80"), Priority: 20},
	}

	alloc := Allocate(money("1000"), candidates)

	require.Len(t, alloc.Discounts, 2)
	assert.Equal(t, "ten percent", alloc.Discounts[0].Name)
	assert.True(t, money("80").Equal(alloc.Discounts[0].AppliedAmount))
	assert.Equal(t, "flat fifty", alloc.Discounts[1].Name)
	assert.True(t, money("50").Equal(alloc.Discounts[1].AppliedAmount))

	assert.True(t, money("130").Equal(alloc.TotalDiscount))
	assert.True(t, money("870").Equal(alloc.FinalAmount))
}

func TestAllocate_BoundedByRemainingBalance(t *testing.T) {
	// Two 60s against 100: the second only gets what is left.
	candidates := []Candidate{
		{SourceID: id.New(), Name: "first", RawValue: money("60"), Priority: 5},
		{SourceID: id.New(), Name: "second", RawValue: money("60"), Priority: 5},
	}

	alloc := Allocate(money("100"), candidates)

	require.Len(t, alloc.Discounts, 2)
	// Equal priority keeps collection order.
	assert.Equal(t, "first", alloc.Discounts[0].Name)
	assert.True(t, money("60").Equal(alloc.Discounts[0].AppliedAmount))
	assert.Equal(t, "second", alloc.Discounts[1].Name)
	assert.True(t, money("40").Equal(alloc.Discounts[1].AppliedAmount))

	assert.True(t, alloc.FinalAmount.IsZero())
	assert.True(t, money("100").Equal(alloc.TotalDiscount))
}

func TestAllocate_ExhaustedBalanceReportsZeroAllocations(t *testing.T) {
	candidates := []Candidate{
		{SourceID: id.New(), Name: "covers all", RawValue: money("500"), Priority: 10},
		{SourceID: id.New(), Name: "late arrival", RawValue: money("30"), Priority: 1},
	}

	alloc := Allocate(money("200"), candidates)

	require.Len(t, alloc.Discounts, 2)
	assert.True(t, money("200").Equal(alloc.Discounts[0].AppliedAmount))
	assert.True(t, alloc.Discounts[0].Applied)

	// Exhausted balance: candidate still reported, zero effect.
	assert.True(t, alloc.Discounts[1].AppliedAmount.IsZero())
	assert.False(t, alloc.Discounts[1].Applied)

	assert.True(t, alloc.FinalAmount.IsZero())
}

func TestAllocate_NoCandidates(t *testing.T) {
	alloc := Allocate(money("300"), nil)

	assert.Empty(t, alloc.Discounts)
	assert.True(t, alloc.TotalDiscount.IsZero())
	assert.True(t, money("300").Equal(alloc.FinalAmount))
}

func TestAllocate_DoesNotMutateInput(t *testing.T) {
	candidates := []Candidate{
		{SourceID: id.New(), Name: "low", RawValue: money("10"), Priority: 1},
		{SourceID: id.New(), Name: "high", RawValue: money("10"), Priority: 9},
	}

	Allocate(money("100"), candidates)

	assert.Equal(t, "low", candidates[0].Name)
	assert.Equal(t, "high", candidates[1].Name)
}

func TestCandidateFromCoupon_PercentageAgainstSubtotal(t *testing.T) {
	cp := &Coupon{
		ID:           id.New(),
		Code:         "TEN",
		DiscountType: DiscountPercentage,
		Value:        money("10"),
	}

	c := CandidateFromCoupon(cp, money("250"))

	assert.Equal(t, SourceCoupon, c.Source)
	assert.Equal(t, "TEN", c.Name)
	assert.True(t, money("25").Equal(c.RawValue))
	assert.Zero(t, c.Priority)
}
