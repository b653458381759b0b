// Package coupon provides the coupon ledger: eligibility validation and
// atomic, at-most-once redemption recording.
package coupon

import (
	"context"
	"time"

	"benefix/internal/core/apperror"
	"benefix/internal/core/id"
	"benefix/internal/core/types"
	"benefix/internal/domain/benefit"
	"benefix/pkg/logger"
)

// UsageRecord is created exactly once per successful redemption;
// never updated or deleted. SingleUse marks records subject to the
// per-customer uniqueness guard; multi-use redemptions are bounded by the
// usage counter alone.
type UsageRecord struct {
	ID             id.ID       `db:"id" json:"id"`
	CouponID       id.ID       `db:"coupon_id" json:"couponId"`
	CustomerID     *id.ID      `db:"customer_id" json:"customerId,omitempty"`
	TransactionRef string      `db:"transaction_ref" json:"transactionRef"`
	Amount         types.Money `db:"amount" json:"amount"`
	SingleUse      bool        `db:"single_use" json:"singleUse"`
	CreatedAt      time.Time   `db:"created_at" json:"createdAt"`
}

// Repository provides coupon lookup and the atomic usage mutations.
type Repository interface {
	// GetByCode returns the coupon with the given code, or a NOT_FOUND
	// AppError when the code is unknown.
	GetByCode(ctx context.Context, code string) (*benefit.Coupon, error)

	// HasUsage reports whether a usage record exists for (coupon, customer).
	HasUsage(ctx context.Context, couponID, customerID id.ID) (bool, error)

	// IncrementUsage bumps the usage counter with a conditional update that
	// fails with CONCURRENT_MODIFICATION when the counter has moved since
	// expectedUses was read. Never a separate read followed by an
	// unconditional write.
	IncrementUsage(ctx context.Context, couponID id.ID, expectedUses int) error

	// CreateUsageRecord inserts one append-only usage record. Returns a
	// DUPLICATE_ENTRY AppError when the (coupon, customer) uniqueness guard
	// for single-use coupons is violated.
	CreateUsageRecord(ctx context.Context, rec *UsageRecord) error
}

// redeemMaxRetries bounds revalidation attempts under contention on one
// popular coupon, avoiding livelock.
const redeemMaxRetries = 3

// Ledger validates coupon eligibility and records redemptions.
type Ledger struct {
	repo       Repository
	maxRetries int
	now        func() time.Time
}

// NewLedger creates a coupon ledger.
func NewLedger(repo Repository) *Ledger {
	return &Ledger{
		repo:       repo,
		maxRetries: redeemMaxRetries,
		now:        time.Now,
	}
}

// Authorize runs the redemption validation sequence, short-circuiting on
// the first failure:
//
//  1. INVALID_COUPON       - unknown code, inactive, or outside date window
//  2. MINIMUM_ORDER_NOT_MET - subtotal below the coupon minimum
//  3. CUSTOMER_MISMATCH    - coupon bound to a different customer
//  4. COUPON_ALREADY_USED  - single-use coupon already redeemed by customer
//  5. USAGE_LIMIT_EXCEEDED - multi-use coupon at its maximum
//
// Authorize performs no mutation; Redeem records the usage.
func (l *Ledger) Authorize(ctx context.Context, code string, subtotal types.Money, customerID *id.ID, asOf time.Time) (*benefit.Coupon, error) {
	cp, err := l.repo.GetByCode(ctx, code)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, apperror.NewInvalidCoupon(code)
		}
		return nil, err
	}

	if !cp.ActiveAt(asOf) {
		return nil, apperror.NewInvalidCoupon(code)
	}

	if !cp.MeetsMinOrder(subtotal) {
		return nil, apperror.NewMinimumOrderNotMet(code, cp.MinOrder.String(), subtotal.String())
	}

	if !cp.BoundTo(customerID) {
		return nil, apperror.NewCustomerMismatch(code)
	}

	if err := l.checkUsage(ctx, cp, customerID); err != nil {
		return nil, err
	}

	return cp, nil
}

// Redeem atomically increments the coupon usage counter and inserts one
// usage record. Must run inside the finalize transaction so counter and
// record commit (or roll back) as a single unit.
//
// A failed conditional increment means the counter moved under us; the
// coupon is re-fetched and usage limits revalidated before retrying, a
// bounded number of times.
func (l *Ledger) Redeem(ctx context.Context, cp *benefit.Coupon, customerID *id.ID, transactionRef string, amount types.Money) (*UsageRecord, error) {
	current := cp
	singleUse := cp.Policy == benefit.PolicySingleUsePerCustomer

	for attempt := 0; attempt < l.maxRetries; attempt++ {
		err := l.repo.IncrementUsage(ctx, current.ID, current.Uses)
		if err == nil {
			rec := &UsageRecord{
				ID:             id.New(),
				CouponID:       current.ID,
				CustomerID:     customerID,
				TransactionRef: transactionRef,
				Amount:         amount,
				SingleUse:      singleUse,
				CreatedAt:      l.now(),
			}
			if err := l.repo.CreateUsageRecord(ctx, rec); err != nil {
				if apperror.IsDuplicate(err) && singleUse && customerID != nil {
					// The (coupon, customer) uniqueness guard caught a
					// concurrent single-use redemption.
					return nil, apperror.NewCouponAlreadyUsed(current.Code, customerID.String())
				}
				return nil, err
			}

			logger.Info(ctx, "coupon redeemed",
				"coupon_code", current.Code,
				"transaction_ref", transactionRef,
				"amount", amount.String(),
			)
			return rec, nil
		}

		if !apperror.IsConcurrentModification(err) {
			return nil, err
		}

		refreshed, ferr := l.repo.GetByCode(ctx, current.Code)
		if ferr != nil {
			return nil, ferr
		}
		if cerr := l.checkUsage(ctx, refreshed, customerID); cerr != nil {
			return nil, cerr
		}
		current = refreshed
	}

	return nil, apperror.NewUsageLimitExceeded(current.Code, current.MaxUses)
}

// checkUsage runs the policy-specific usage limit checks (steps 4-5).
func (l *Ledger) checkUsage(ctx context.Context, cp *benefit.Coupon, customerID *id.ID) error {
	switch cp.Policy {
	case benefit.PolicySingleUsePerCustomer:
		if customerID == nil {
			return apperror.NewValidation("single-use coupon requires an identified customer").
				WithDetail("coupon_code", cp.Code)
		}
		used, err := l.repo.HasUsage(ctx, cp.ID, *customerID)
		if err != nil {
			return err
		}
		if used {
			return apperror.NewCouponAlreadyUsed(cp.Code, customerID.String())
		}

	case benefit.PolicyMultiUse:
		if cp.Uses >= cp.MaxUses {
			return apperror.NewUsageLimitExceeded(cp.Code, cp.MaxUses)
		}
	}
	return nil
}
