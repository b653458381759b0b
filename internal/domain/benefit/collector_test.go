package benefit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"benefix/internal/core/apperror"
	"benefix/internal/core/id"
	"benefix/internal/core/types"
)

// mockRepo is a hand-rolled benefit.Repository with per-method overrides.
type mockRepo struct {
	itemRules     func(itemID id.ID) ([]DiscountRule, error)
	orderRules    func() ([]DiscountRule, error)
	benefits      func(customerID id.ID) ([]CustomerBenefit, error)
	coupons       func(customerID *id.ID) ([]Coupon, error)
	program       func(customerID id.ID) (*LoyaltyProgram, error)
	itemRuleCalls int
}

func (m *mockRepo) GetActiveItemRules(ctx context.Context, itemID id.ID, asOf time.Time) ([]DiscountRule, error) {
	m.itemRuleCalls++
	if m.itemRules != nil {
		return m.itemRules(itemID)
	}
	return nil, nil
}

func (m *mockRepo) GetActiveOrderRules(ctx context.Context, asOf time.Time) ([]DiscountRule, error) {
	if m.orderRules != nil {
		return m.orderRules()
	}
	return nil, nil
}

func (m *mockRepo) GetCustomerBenefits(ctx context.Context, customerID id.ID, asOf time.Time) ([]CustomerBenefit, error) {
	if m.benefits != nil {
		return m.benefits(customerID)
	}
	return nil, nil
}

func (m *mockRepo) GetActiveCoupons(ctx context.Context, customerID *id.ID, asOf time.Time) ([]Coupon, error) {
	if m.coupons != nil {
		return m.coupons(customerID)
	}
	return nil, nil
}

func (m *mockRepo) GetLoyaltyProgram(ctx context.Context, customerID id.ID) (*LoyaltyProgram, error) {
	if m.program != nil {
		return m.program(customerID)
	}
	return nil, apperror.NewNotFound("loyalty_program", customerID.String())
}

func testTransaction(customerID *id.ID, itemID id.ID) Transaction {
	return Transaction{
		Ref:        "trx-001",
		CustomerID: customerID,
		Lines: []Line{
			{ItemID: itemID, Quantity: 4, UnitPrice: money("250")},
		},
	}
}

func TestCollector_ItemRuleAgainstLineFacts(t *testing.T) {
	itemID := id.New()
	repo := &mockRepo{
		itemRules: func(got id.ID) ([]DiscountRule, error) {
			require.Equal(t, itemID, got)
			return []DiscountRule{
				{
					ID:    id.New(),
					Name:  "bulk",
					Scope: ScopeItem,
					Condition: Condition{
						Kind:      ConditionQuantity,
						Operator:  OpGTE,
						Threshold: types.NewMoneyFromInt(3),
					},
					DiscountType: DiscountPercentage,
					Value:        money("10"),
					Priority:     20,
					Active:       true,
				},
			}, nil
		},
	}

	collector := NewCollector(repo)
	result := collector.Collect(context.Background(), testTransaction(nil, itemID), time.Now(), NewCache())

	require.Len(t, result.Candidates, 1)
	c := result.Candidates[0]
	assert.Equal(t, SourceItem, c.Source)
	// Percentage is computed against the line total, not the subtotal.
	assert.True(t, money("100").Equal(c.RawValue))
	assert.Empty(t, result.Degraded)
}

func TestCollector_InactiveAndUnmatchedRulesExcluded(t *testing.T) {
	itemID := id.New()
	repo := &mockRepo{
		itemRules: func(id.ID) ([]DiscountRule, error) {
			return []DiscountRule{
				{
					Name:         "disabled",
					Condition:    Condition{Kind: ConditionDateActive},
					DiscountType: DiscountFixed,
					Value:        money("5"),
					Active:       false,
				},
				{
					Name: "needs ten",
					Condition: Condition{
						Kind:      ConditionQuantity,
						Operator:  OpGTE,
						Threshold: types.NewMoneyFromInt(10),
					},
					DiscountType: DiscountFixed,
					Value:        money("5"),
					Active:       true,
				},
			}, nil
		},
	}

	collector := NewCollector(repo)
	result := collector.Collect(context.Background(), testTransaction(nil, itemID), time.Now(), NewCache())

	assert.Empty(t, result.Candidates)
}

func TestCollector_SourceFailureDegradesToEmpty(t *testing.T) {
	itemID := id.New()
	customerID := id.New()
	repo := &mockRepo{
		itemRules: func(id.ID) ([]DiscountRule, error) {
			return nil, errors.New("connection refused")
		},
		benefits: func(id.ID) ([]CustomerBenefit, error) {
			return []CustomerBenefit{
				{
					ID:           id.New(),
					CustomerID:   customerID,
					Name:         "gold",
					DiscountType: DiscountPercentage,
					Value:        money("5"),
					Priority:     30,
					Active:       true,
				},
			}, nil
		},
	}

	collector := NewCollector(repo)
	result := collector.Collect(context.Background(), testTransaction(&customerID, itemID), time.Now(), NewCache())

	// The healthy source still contributes; the failed one is reported.
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, SourceCustomer, result.Candidates[0].Source)
	assert.Contains(t, result.Degraded, "item_rules")
}

func TestCollector_ItemRulesCachedPerItem(t *testing.T) {
	itemID := id.New()
	repo := &mockRepo{}

	trx := Transaction{
		Ref: "trx-002",
		Lines: []Line{
			{ItemID: itemID, Quantity: 1, UnitPrice: money("10")},
			{ItemID: itemID, Quantity: 2, UnitPrice: money("10")},
		},
	}

	collector := NewCollector(repo)
	collector.Collect(context.Background(), trx, time.Now(), NewCache())

	assert.Equal(t, 1, repo.itemRuleCalls)
}

func TestCollector_CouponsOfferedNotApplied(t *testing.T) {
	itemID := id.New()
	customerID := id.New()
	otherCustomer := id.New()
	repo := &mockRepo{
		coupons: func(*id.ID) ([]Coupon, error) {
			return []Coupon{
				{ID: id.New(), Code: "OK", DiscountType: DiscountFixed, Value: money("10"), Policy: PolicyMultiUse, MaxUses: 5, Active: true},
				{ID: id.New(), Code: "MIN-TOO-HIGH", DiscountType: DiscountFixed, Value: money("10"), MinOrder: moneyPtr("5000"), Policy: PolicyMultiUse, MaxUses: 5, Active: true},
				{ID: id.New(), Code: "NOT-YOURS", DiscountType: DiscountFixed, Value: money("10"), CustomerID: &otherCustomer, Policy: PolicyMultiUse, MaxUses: 5, Active: true},
			}, nil
		},
	}

	collector := NewCollector(repo)
	result := collector.Collect(context.Background(), testTransaction(&customerID, itemID), time.Now(), NewCache())

	assert.Empty(t, result.Candidates)
	require.Len(t, result.AvailableCoupons, 1)
	assert.Equal(t, "OK", result.AvailableCoupons[0].Code)
}

func TestCollector_LoyaltyProgramRules(t *testing.T) {
	itemID := id.New()
	customerID := id.New()
	repo := &mockRepo{
		program: func(id.ID) (*LoyaltyProgram, error) {
			return &LoyaltyProgram{
				ID:             id.New(),
				Name:           "rewards",
				EarnRate:       money("0.1"),
				RedemptionRate: money("0.05"),
				Active:         true,
				Rules: []DiscountRule{
					{
						ID:           id.New(),
						Name:         "member",
						Scope:        ScopeOrder,
						Condition:    Condition{Kind: ConditionDateActive},
						DiscountType: DiscountPercentage,
						Value:        money("2"),
						Priority:     5,
						Active:       true,
					},
				},
			}, nil
		},
	}

	collector := NewCollector(repo)
	result := collector.Collect(context.Background(), testTransaction(&customerID, itemID), time.Now(), NewCache())

	require.Len(t, result.Candidates, 1)
	c := result.Candidates[0]
	assert.Equal(t, SourceLoyalty, c.Source)
	assert.True(t, money("20").Equal(c.RawValue))
}

func TestCollector_NoMembershipIsNotDegradation(t *testing.T) {
	itemID := id.New()
	customerID := id.New()
	repo := &mockRepo{}

	collector := NewCollector(repo)
	result := collector.Collect(context.Background(), testTransaction(&customerID, itemID), time.Now(), NewCache())

	assert.Empty(t, result.Candidates)
	assert.Empty(t, result.Degraded)
}
