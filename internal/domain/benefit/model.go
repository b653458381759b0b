package benefit

import (
	"context"
	"time"

	"benefix/internal/core/apperror"
	"benefix/internal/core/id"
	"benefix/internal/core/types"
)

// DiscountType enumerates the supported discount expressions.
type DiscountType string

const (
	// DiscountPercentage computes value as a percentage of the base amount.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed applies the configured amount verbatim.
	DiscountFixed DiscountType = "fixed"
)

// RuleScope determines which base amount an item/order rule is evaluated
// and computed against.
type RuleScope string

const (
	ScopeItem  RuleScope = "item"
	ScopeOrder RuleScope = "order"
)

// UsagePolicy controls how often a coupon may be redeemed.
type UsagePolicy string

const (
	// PolicySingleUsePerCustomer permits each customer at most one
	// successful redemption, independent of the global usage count.
	PolicySingleUsePerCustomer UsagePolicy = "single_use_per_customer"
	// PolicyMultiUse permits redemptions until MaxUses is reached.
	PolicyMultiUse UsagePolicy = "multi_use"
)

// DiscountRule is an item- or order-scoped discount configured by the
// merchant. Immutable once read into a calculation.
type DiscountRule struct {
	ID           id.ID        `db:"id" json:"id"`
	Name         string       `db:"name" json:"name"`
	Scope        RuleScope    `db:"scope" json:"scope"`
	ItemID       *id.ID       `db:"item_id" json:"itemId,omitempty"`
	Condition    Condition    `db:"-" json:"condition"`
	DiscountType DiscountType `db:"discount_type" json:"discountType"`
	Value        types.Money  `db:"value" json:"value"`
	Cap          *types.Money `db:"cap" json:"cap,omitempty"`
	MinAmount    *types.Money `db:"min_amount" json:"minAmount,omitempty"`
	Priority     int          `db:"priority" json:"priority"`
	ValidFrom    *time.Time   `db:"valid_from" json:"validFrom,omitempty"`
	ValidUntil   *time.Time   `db:"valid_until" json:"validUntil,omitempty"`
	Active       bool         `db:"active" json:"active"`
}

// Validate implements configuration-load validation. Malformed rules are
// excluded from calculations, never allowed to fail them.
func (r *DiscountRule) Validate(ctx context.Context) error {
	if r.Name == "" {
		return apperror.NewValidation("rule name is required")
	}

	switch r.Scope {
	case ScopeItem:
		if r.ItemID == nil || id.IsNil(*r.ItemID) {
			return apperror.NewValidation("item-scoped rule requires a target item").
				WithDetail("rule", r.Name)
		}
	case ScopeOrder:
	default:
		return apperror.NewValidation("unknown rule scope").
			WithDetail("scope", string(r.Scope))
	}

	if err := validateDiscountValue(r.DiscountType, r.Value); err != nil {
		return err
	}

	return r.Condition.Validate()
}

// ActiveAt reports whether the rule is enabled and inside its date window.
func (r *DiscountRule) ActiveAt(t time.Time) bool {
	return r.Active && withinWindow(t, r.ValidFrom, r.ValidUntil)
}

// Coupon is an explicitly redeemed discount. The usage counter is the only
// field mutated during calculation; every increment must be atomic relative
// to concurrent redemptions of the same coupon.
type Coupon struct {
	ID           id.ID        `db:"id" json:"id"`
	Code         string       `db:"code" json:"code"`
	DiscountType DiscountType `db:"discount_type" json:"discountType"`
	Value        types.Money  `db:"value" json:"value"`
	Cap          *types.Money `db:"cap" json:"cap,omitempty"`
	MinOrder     *types.Money `db:"min_order" json:"minOrder,omitempty"`
	CustomerID   *id.ID       `db:"customer_id" json:"customerId,omitempty"`
	Policy       UsagePolicy  `db:"policy" json:"policy"`
	MaxUses      int          `db:"max_uses" json:"maxUses"`
	Uses         int          `db:"uses" json:"uses"`
	ValidFrom    *time.Time   `db:"valid_from" json:"validFrom,omitempty"`
	ValidUntil   *time.Time   `db:"valid_until" json:"validUntil,omitempty"`
	Active       bool         `db:"active" json:"active"`
}

// Validate implements configuration-load validation.
func (c *Coupon) Validate(ctx context.Context) error {
	if c.Code == "" {
		return apperror.NewValidation("coupon code is required")
	}

	switch c.Policy {
	case PolicySingleUsePerCustomer:
	case PolicyMultiUse:
		if c.MaxUses <= 0 {
			return apperror.NewValidation("multi-use coupon requires a positive max uses").
				WithDetail("coupon_code", c.Code)
		}
	default:
		return apperror.NewValidation("unknown usage policy").
			WithDetail("policy", string(c.Policy))
	}

	return validateDiscountValue(c.DiscountType, c.Value)
}

// ActiveAt reports whether the coupon is enabled and inside its date window.
func (c *Coupon) ActiveAt(t time.Time) bool {
	return c.Active && withinWindow(t, c.ValidFrom, c.ValidUntil)
}

// MeetsMinOrder reports whether the subtotal satisfies the coupon minimum.
func (c *Coupon) MeetsMinOrder(subtotal types.Money) bool {
	return c.MinOrder == nil || subtotal.GreaterThanOrEqual(*c.MinOrder)
}

// BoundTo reports whether the coupon may be redeemed by the given customer.
// An unbound coupon is redeemable by anyone.
func (c *Coupon) BoundTo(customerID *id.ID) bool {
	if c.CustomerID == nil {
		return true
	}
	return customerID != nil && *customerID == *c.CustomerID
}

// CustomerBenefit is a discount granted to a specific customer, typically
// by tier or negotiated terms. One customer may hold zero or more.
type CustomerBenefit struct {
	ID           id.ID        `db:"id" json:"id"`
	CustomerID   id.ID        `db:"customer_id" json:"customerId"`
	Name         string       `db:"name" json:"name"`
	DiscountType DiscountType `db:"discount_type" json:"discountType"`
	Value        types.Money  `db:"value" json:"value"`
	Cap          *types.Money `db:"cap" json:"cap,omitempty"`
	MinOrder     *types.Money `db:"min_order" json:"minOrder,omitempty"`
	Priority     int          `db:"priority" json:"priority"`
	ValidFrom    *time.Time   `db:"valid_from" json:"validFrom,omitempty"`
	ValidUntil   *time.Time   `db:"valid_until" json:"validUntil,omitempty"`
	Active       bool         `db:"active" json:"active"`
}

// ActiveAt reports whether the benefit is enabled and inside its date window.
func (b *CustomerBenefit) ActiveAt(t time.Time) bool {
	return b.Active && withinWindow(t, b.ValidFrom, b.ValidUntil)
}

// MeetsMinOrder reports whether the subtotal satisfies the benefit minimum.
func (b *CustomerBenefit) MeetsMinOrder(subtotal types.Money) bool {
	return b.MinOrder == nil || subtotal.GreaterThanOrEqual(*b.MinOrder)
}

// LoyaltyProgram associates an earn rate and a redemption rate with a
// customer cohort. Rules are program-level order discounts granted by
// membership.
type LoyaltyProgram struct {
	ID             id.ID          `db:"id" json:"id"`
	Name           string         `db:"name" json:"name"`
	EarnRate       types.Money    `db:"earn_rate" json:"earnRate"`             // points per currency unit
	RedemptionRate types.Money    `db:"redemption_rate" json:"redemptionRate"` // currency per point
	Rules          []DiscountRule `db:"-" json:"rules,omitempty"`
	Active         bool           `db:"active" json:"active"`
}

func validateDiscountValue(dt DiscountType, value types.Money) error {
	switch dt {
	case DiscountPercentage:
		if value.IsNegative() || value.GreaterThan(types.NewMoneyFromInt(100)) {
			return apperror.NewValidation("percentage must be between 0 and 100").
				WithDetail("value", value.String())
		}
	case DiscountFixed:
		if value.IsNegative() {
			return apperror.NewValidation("fixed discount must not be negative").
				WithDetail("value", value.String())
		}
	default:
		return apperror.NewValidation("unknown discount type").
			WithDetail("type", string(dt))
	}
	return nil
}

func withinWindow(t time.Time, from, to *time.Time) bool {
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && t.After(*to) {
		return false
	}
	return true
}
