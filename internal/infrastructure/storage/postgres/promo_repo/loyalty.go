package promo_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"benefix/internal/core/apperror"
	"benefix/internal/core/id"
	"benefix/internal/domain/benefit"
	"benefix/internal/domain/loyalty"
	"benefix/internal/infrastructure/storage/postgres"
)

const (
	accountsTable     = "loyalty_accounts"
	ledgerTable       = "loyalty_transactions"
	programRulesTable = "loyalty_program_rules"
)

// LoyaltyRepo implements loyalty.Repository over the loyalty tables.
type LoyaltyRepo struct {
	txManager *postgres.TxManager
	builder   squirrel.StatementBuilderType
}

// NewLoyaltyRepo creates a new loyalty repository.
func NewLoyaltyRepo(txManager *postgres.TxManager) *LoyaltyRepo {
	return &LoyaltyRepo{
		txManager: txManager,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// getProgramByMembership resolves the customer's program through the
// membership table and loads its program-level discount rules. Shared with
// BenefitRepo so both repositories return identical program shapes.
func getProgramByMembership(ctx context.Context, txManager *postgres.TxManager, builder squirrel.StatementBuilderType, customerID id.ID) (*benefit.LoyaltyProgram, error) {
	q := builder.Select(
		"p.id", "p.name", "p.earn_rate", "p.redemption_rate", "p.active",
	).From(programsTable + " p").
		Join(membershipsTable + " m ON m.program_id = p.id").
		Where(squirrel.Eq{"m.customer_id": customerID}).
		Limit(1)

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var program benefit.LoyaltyProgram
	querier := txManager.GetQuerier(ctx)
	if err := pgxscan.Get(ctx, querier, &program, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("loyalty_program", customerID.String())
		}
		return nil, fmt.Errorf("get program: %w", err)
	}

	rules, err := getProgramRules(ctx, txManager, builder, program.ID)
	if err != nil {
		return nil, err
	}
	program.Rules = rules

	return &program, nil
}

func getProgramRules(ctx context.Context, txManager *postgres.TxManager, builder squirrel.StatementBuilderType, programID id.ID) ([]benefit.DiscountRule, error) {
	cols := make([]string, 0, len(ruleColumns))
	for _, c := range ruleColumns {
		cols = append(cols, "r."+c)
	}

	q := builder.Select(cols...).
		From(rulesTable + " r").
		Join(programRulesTable + " pr ON pr.rule_id = r.id").
		Where(squirrel.Eq{"pr.program_id": programID}).
		OrderBy("r.priority DESC", "r.id")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []ruleRow
	querier := txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("select program rules: %w", err)
	}

	return rowsToRules(rows), nil
}

// GetProgram returns the program the customer is a member of.
func (r *LoyaltyRepo) GetProgram(ctx context.Context, customerID id.ID) (*benefit.LoyaltyProgram, error) {
	return getProgramByMembership(ctx, r.txManager, r.builder, customerID)
}

// GetBalance returns the customer's point balance. A member without an
// account row yet has a zero balance.
func (r *LoyaltyRepo) GetBalance(ctx context.Context, customerID id.ID) (int64, error) {
	q := r.builder.Select("balance").
		From(accountsTable).
		Where(squirrel.Eq{"customer_id": customerID}).
		Limit(1)

	sql, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}

	var balance int64
	err = r.txManager.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&balance)
	if err != nil {
		if pgxscan.NotFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}

	return balance, nil
}

// UpdateBalance writes the new balance, conditional on the balance still
// holding the value the caller read. The first write for a customer creates
// the account row.
func (r *LoyaltyRepo) UpdateBalance(ctx context.Context, customerID id.ID, expected, newBalance int64) error {
	q := r.builder.Update(accountsTable).
		Set("balance", newBalance).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"customer_id": customerID, "balance": expected})

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	querier := r.txManager.GetQuerier(ctx)
	result, err := querier.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}

	if result.RowsAffected() == 0 {
		if expected == 0 {
			insert, ierr := querier.Exec(ctx,
				`INSERT INTO `+accountsTable+` (customer_id, balance, updated_at)
				 VALUES ($1, $2, now())
				 ON CONFLICT (customer_id) DO NOTHING`,
				customerID, newBalance,
			)
			if ierr != nil {
				return fmt.Errorf("create account: %w", ierr)
			}
			if insert.RowsAffected() == 1 {
				return nil
			}
		}
		return apperror.NewConcurrentModification("loyalty_account", customerID.String())
	}

	return nil
}

// AppendTransaction inserts one append-only ledger entry.
func (r *LoyaltyRepo) AppendTransaction(ctx context.Context, trx *loyalty.Transaction) error {
	q := r.builder.Insert(ledgerTable).
		Columns(
			"id", "customer_id", "points_earned", "points_redeemed",
			"balance_before", "balance_after", "transaction_ref", "created_at",
		).
		Values(
			trx.ID, trx.CustomerID, trx.PointsEarned, trx.PointsRedeemed,
			trx.BalanceBefore, trx.BalanceAfter, trx.TransactionRef, trx.CreatedAt,
		)

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert loyalty transaction: %w", err)
	}

	return nil
}

// CreateProgram inserts a loyalty program. Used by configuration tooling.
func (r *LoyaltyRepo) CreateProgram(ctx context.Context, program *benefit.LoyaltyProgram) error {
	q := r.builder.Insert(programsTable).
		Columns("id", "name", "earn_rate", "redemption_rate", "active").
		Values(program.ID, program.Name, program.EarnRate, program.RedemptionRate, program.Active)

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert program: %w", err)
	}

	return nil
}

// CreateMembership enrolls a customer into a program.
func (r *LoyaltyRepo) CreateMembership(ctx context.Context, customerID, programID id.ID) error {
	q := r.builder.Insert(membershipsTable).
		Columns("customer_id", "program_id").
		Values(customerID, programID)

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert membership: %w", err)
	}

	return nil
}

// AttachProgramRule links a discount rule to a program.
func (r *LoyaltyRepo) AttachProgramRule(ctx context.Context, programID, ruleID id.ID) error {
	q := r.builder.Insert(programRulesTable).
		Columns("program_id", "rule_id").
		Values(programID, ruleID)

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert program rule: %w", err)
	}

	return nil
}

// Ensure interface compliance.
var _ loyalty.Repository = (*LoyaltyRepo)(nil)
