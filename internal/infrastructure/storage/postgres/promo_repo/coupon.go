package promo_repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgconn"

	"benefix/internal/core/apperror"
	"benefix/internal/core/id"
	"benefix/internal/domain/benefit"
	"benefix/internal/domain/coupon"
	"benefix/internal/infrastructure/storage/postgres"
)

const couponUsagesTable = "coupon_usage_records"

// CouponRepo implements coupon.Repository over the promo tables.
type CouponRepo struct {
	txManager *postgres.TxManager
	builder   squirrel.StatementBuilderType
}

// NewCouponRepo creates a new coupon repository.
func NewCouponRepo(txManager *postgres.TxManager) *CouponRepo {
	return &CouponRepo{
		txManager: txManager,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// GetByCode returns the coupon with the given code.
func (r *CouponRepo) GetByCode(ctx context.Context, code string) (*benefit.Coupon, error) {
	q := r.builder.Select(
		"id", "code", "discount_type", "value", "cap", "min_order",
		"customer_id", "policy", "max_uses", "uses",
		"valid_from", "valid_until", "active",
	).From(couponsTable).
		Where(squirrel.Eq{"code": code}).
		Limit(1)

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var cp benefit.Coupon
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Get(ctx, querier, &cp, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("coupon", code)
		}
		return nil, fmt.Errorf("get coupon: %w", err)
	}

	return &cp, nil
}

// HasUsage reports whether a usage record exists for (coupon, customer).
func (r *CouponRepo) HasUsage(ctx context.Context, couponID, customerID id.ID) (bool, error) {
	q := r.builder.Select("1").
		From(couponUsagesTable).
		Where(squirrel.Eq{"coupon_id": couponID, "customer_id": customerID}).
		Limit(1)

	sql, args, err := q.ToSql()
	if err != nil {
		return false, fmt.Errorf("build query: %w", err)
	}

	var exists int
	err = r.txManager.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&exists)
	if err != nil {
		if pgxscan.NotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("check usage: %w", err)
	}

	return true, nil
}

// IncrementUsage bumps the usage counter, conditional on the counter still
// holding the value the caller read. Zero rows affected means a concurrent
// redemption won the race.
func (r *CouponRepo) IncrementUsage(ctx context.Context, couponID id.ID, expectedUses int) error {
	q := r.builder.Update(couponsTable).
		Set("uses", squirrel.Expr("uses + 1")).
		Where(squirrel.Eq{"id": couponID, "uses": expectedUses})

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	result, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperror.NewConcurrentModification("coupon", couponID.String())
	}

	return nil
}

// CreateUsageRecord inserts one append-only usage record. The partial
// unique index on (coupon_id, customer_id) for single-use records surfaces
// as DUPLICATE_ENTRY.
func (r *CouponRepo) CreateUsageRecord(ctx context.Context, rec *coupon.UsageRecord) error {
	q := r.builder.Insert(couponUsagesTable).
		Columns("id", "coupon_id", "customer_id", "transaction_ref", "amount", "single_use", "created_at").
		Values(rec.ID, rec.CouponID, rec.CustomerID, rec.TransactionRef, rec.Amount, rec.SingleUse, rec.CreatedAt)

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperror.NewDuplicate("coupon usage", "coupon_id", rec.CouponID.String()).
				WithCause(err)
		}
		return fmt.Errorf("insert usage record: %w", err)
	}

	return nil
}

// CreateCoupon inserts a coupon. Used by configuration tooling.
func (r *CouponRepo) CreateCoupon(ctx context.Context, cp *benefit.Coupon) error {
	q := r.builder.Insert(couponsTable).
		Columns(
			"id", "code", "discount_type", "value", "cap", "min_order",
			"customer_id", "policy", "max_uses", "uses",
			"valid_from", "valid_until", "active",
		).
		Values(
			cp.ID, cp.Code, cp.DiscountType, cp.Value, cp.Cap, cp.MinOrder,
			cp.CustomerID, cp.Policy, cp.MaxUses, cp.Uses,
			cp.ValidFrom, cp.ValidUntil, cp.Active,
		)

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperror.NewDuplicate("coupon", "code", cp.Code).WithCause(err)
		}
		return fmt.Errorf("insert coupon: %w", err)
	}

	return nil
}

// Ensure interface compliance.
var _ coupon.Repository = (*CouponRepo)(nil)
