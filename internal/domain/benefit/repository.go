package benefit

import (
	"context"
	"time"

	"benefix/internal/core/id"
)

// Repository provides the currently-active discount configuration for a
// calculation scope. Implementations live in infrastructure/storage.
type Repository interface {
	// GetActiveItemRules returns item-scoped rules targeting the item,
	// active at the given time.
	GetActiveItemRules(ctx context.Context, itemID id.ID, asOf time.Time) ([]DiscountRule, error)

	// GetActiveOrderRules returns order-scoped rules active at the given time.
	GetActiveOrderRules(ctx context.Context, asOf time.Time) ([]DiscountRule, error)

	// GetCustomerBenefits returns benefits held by the customer, active at
	// the given time.
	GetCustomerBenefits(ctx context.Context, customerID id.ID, asOf time.Time) ([]CustomerBenefit, error)

	// GetActiveCoupons returns coupons redeemable at the given time:
	// unbound coupons plus those bound to the given customer.
	GetActiveCoupons(ctx context.Context, customerID *id.ID, asOf time.Time) ([]Coupon, error)

	// GetLoyaltyProgram returns the program the customer is a member of.
	// Returns a NOT_FOUND AppError when the customer has no membership.
	GetLoyaltyProgram(ctx context.Context, customerID id.ID) (*LoyaltyProgram, error)
}
