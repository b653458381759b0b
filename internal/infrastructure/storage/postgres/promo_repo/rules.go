// Package promo_repo provides PostgreSQL implementations for the benefit,
// coupon and loyalty repositories.
package promo_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"benefix/internal/core/id"
	"benefix/internal/core/types"
	"benefix/internal/domain/benefit"
	"benefix/internal/infrastructure/storage/postgres"
)

const (
	rulesTable       = "promo_rules"
	couponsTable     = "promo_coupons"
	benefitsTable    = "promo_customer_benefits"
	programsTable    = "loyalty_programs"
	membershipsTable = "loyalty_memberships"
)

// ruleColumns is the select list shared by every rule query.
var ruleColumns = []string{
	"id", "name", "scope", "item_id",
	"condition_kind", "condition_operator", "condition_threshold",
	"condition_from", "condition_to",
	"discount_type", "value", "cap", "min_amount", "priority",
	"valid_from", "valid_until", "active",
}

// ruleRow is the flat database shape of a discount rule. The trigger
// condition is stored as dedicated columns, not JSON, so it stays
// queryable and constrained.
type ruleRow struct {
	ID                 id.ID        `db:"id"`
	Name               string       `db:"name"`
	Scope              string       `db:"scope"`
	ItemID             *id.ID       `db:"item_id"`
	ConditionKind      string       `db:"condition_kind"`
	ConditionOperator  string       `db:"condition_operator"`
	ConditionThreshold types.Money  `db:"condition_threshold"`
	ConditionFrom      *time.Time   `db:"condition_from"`
	ConditionTo        *time.Time   `db:"condition_to"`
	DiscountType       string       `db:"discount_type"`
	Value              types.Money  `db:"value"`
	Cap                *types.Money `db:"cap"`
	MinAmount          *types.Money `db:"min_amount"`
	Priority           int          `db:"priority"`
	ValidFrom          *time.Time   `db:"valid_from"`
	ValidUntil         *time.Time   `db:"valid_until"`
	Active             bool         `db:"active"`
}

func (r ruleRow) toModel() benefit.DiscountRule {
	return benefit.DiscountRule{
		ID:     r.ID,
		Name:   r.Name,
		Scope:  benefit.RuleScope(r.Scope),
		ItemID: r.ItemID,
		Condition: benefit.Condition{
			Kind:      benefit.ConditionKind(r.ConditionKind),
			Operator:  benefit.Operator(r.ConditionOperator),
			Threshold: r.ConditionThreshold,
			From:      r.ConditionFrom,
			To:        r.ConditionTo,
		},
		DiscountType: benefit.DiscountType(r.DiscountType),
		Value:        r.Value,
		Cap:          r.Cap,
		MinAmount:    r.MinAmount,
		Priority:     r.Priority,
		ValidFrom:    r.ValidFrom,
		ValidUntil:   r.ValidUntil,
		Active:       r.Active,
	}
}

func rowsToRules(rows []ruleRow) []benefit.DiscountRule {
	rules := make([]benefit.DiscountRule, 0, len(rows))
	for _, row := range rows {
		rules = append(rules, row.toModel())
	}
	return rules
}

// BenefitRepo implements benefit.Repository over the promo tables.
type BenefitRepo struct {
	txManager *postgres.TxManager
	builder   squirrel.StatementBuilderType
}

// NewBenefitRepo creates a new benefit repository.
func NewBenefitRepo(txManager *postgres.TxManager) *BenefitRepo {
	return &BenefitRepo{
		txManager: txManager,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// activeWindow filters to rows enabled and inside their validity window.
func activeWindow(asOf time.Time) squirrel.And {
	return squirrel.And{
		squirrel.Eq{"active": true},
		squirrel.Or{squirrel.Eq{"valid_from": nil}, squirrel.LtOrEq{"valid_from": asOf}},
		squirrel.Or{squirrel.Eq{"valid_until": nil}, squirrel.GtOrEq{"valid_until": asOf}},
	}
}

// GetActiveItemRules returns active item-scoped rules for one item.
func (r *BenefitRepo) GetActiveItemRules(ctx context.Context, itemID id.ID, asOf time.Time) ([]benefit.DiscountRule, error) {
	q := r.builder.Select(ruleColumns...).
		From(rulesTable).
		Where(squirrel.Eq{"scope": benefit.ScopeItem, "item_id": itemID}).
		Where(activeWindow(asOf)).
		OrderBy("priority DESC", "id")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []ruleRow
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("select item rules: %w", err)
	}

	return rowsToRules(rows), nil
}

// GetActiveOrderRules returns active order-scoped rules.
func (r *BenefitRepo) GetActiveOrderRules(ctx context.Context, asOf time.Time) ([]benefit.DiscountRule, error) {
	q := r.builder.Select(ruleColumns...).
		From(rulesTable).
		Where(squirrel.Eq{"scope": benefit.ScopeOrder}).
		Where(activeWindow(asOf)).
		OrderBy("priority DESC", "id")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []ruleRow
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("select order rules: %w", err)
	}

	return rowsToRules(rows), nil
}

// GetCustomerBenefits returns the customer's active benefits.
func (r *BenefitRepo) GetCustomerBenefits(ctx context.Context, customerID id.ID, asOf time.Time) ([]benefit.CustomerBenefit, error) {
	q := r.builder.Select(
		"id", "customer_id", "name", "discount_type", "value", "cap",
		"min_order", "priority", "valid_from", "valid_until", "active",
	).From(benefitsTable).
		Where(squirrel.Eq{"customer_id": customerID}).
		Where(activeWindow(asOf)).
		OrderBy("priority DESC", "id")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var benefits []benefit.CustomerBenefit
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &benefits, sql, args...); err != nil {
		return nil, fmt.Errorf("select customer benefits: %w", err)
	}

	return benefits, nil
}

// GetActiveCoupons returns active coupons redeemable by the customer:
// unbound coupons plus those bound to the given customer.
func (r *BenefitRepo) GetActiveCoupons(ctx context.Context, customerID *id.ID, asOf time.Time) ([]benefit.Coupon, error) {
	binding := squirrel.Sqlizer(squirrel.Eq{"customer_id": nil})
	if customerID != nil {
		binding = squirrel.Or{
			squirrel.Eq{"customer_id": nil},
			squirrel.Eq{"customer_id": *customerID},
		}
	}

	q := r.builder.Select(
		"id", "code", "discount_type", "value", "cap", "min_order",
		"customer_id", "policy", "max_uses", "uses",
		"valid_from", "valid_until", "active",
	).From(couponsTable).
		Where(binding).
		Where(activeWindow(asOf)).
		OrderBy("code")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var coupons []benefit.Coupon
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &coupons, sql, args...); err != nil {
		return nil, fmt.Errorf("select coupons: %w", err)
	}

	return coupons, nil
}

// GetLoyaltyProgram returns the program the customer is a member of,
// including program-level discount rules.
func (r *BenefitRepo) GetLoyaltyProgram(ctx context.Context, customerID id.ID) (*benefit.LoyaltyProgram, error) {
	return getProgramByMembership(ctx, r.txManager, r.builder, customerID)
}

// CreateRule inserts a discount rule. Used by configuration tooling.
func (r *BenefitRepo) CreateRule(ctx context.Context, rule *benefit.DiscountRule) error {
	q := r.builder.Insert(rulesTable).
		Columns(ruleColumns...).
		Values(
			rule.ID, rule.Name, rule.Scope, rule.ItemID,
			rule.Condition.Kind, rule.Condition.Operator, rule.Condition.Threshold,
			rule.Condition.From, rule.Condition.To,
			rule.DiscountType, rule.Value, rule.Cap, rule.MinAmount, rule.Priority,
			rule.ValidFrom, rule.ValidUntil, rule.Active,
		)

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}

	return nil
}

// CreateBenefit inserts a customer benefit.
func (r *BenefitRepo) CreateBenefit(ctx context.Context, b *benefit.CustomerBenefit) error {
	q := r.builder.Insert(benefitsTable).
		Columns(
			"id", "customer_id", "name", "discount_type", "value", "cap",
			"min_order", "priority", "valid_from", "valid_until", "active",
		).
		Values(
			b.ID, b.CustomerID, b.Name, b.DiscountType, b.Value, b.Cap,
			b.MinOrder, b.Priority, b.ValidFrom, b.ValidUntil, b.Active,
		)

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert benefit: %w", err)
	}

	return nil
}

// Ensure interface compliance.
var _ benefit.Repository = (*BenefitRepo)(nil)
