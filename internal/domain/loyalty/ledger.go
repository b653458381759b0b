// Package loyalty provides the loyalty ledger: point earning, redemption
// and the append-only balance history.
package loyalty

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"benefix/internal/core/apperror"
	"benefix/internal/core/id"
	"benefix/internal/core/types"
	"benefix/internal/domain/benefit"
	"benefix/pkg/logger"
)

// Transaction is an append-only loyalty ledger entry. The cached running
// balance on the customer account must stay consistent with the entry's
// before/after snapshot.
type Transaction struct {
	ID             id.ID     `db:"id" json:"id"`
	CustomerID     id.ID     `db:"customer_id" json:"customerId"`
	PointsEarned   int64     `db:"points_earned" json:"pointsEarned"`
	PointsRedeemed int64     `db:"points_redeemed" json:"pointsRedeemed"`
	BalanceBefore  int64     `db:"balance_before" json:"balanceBefore"`
	BalanceAfter   int64     `db:"balance_after" json:"balanceAfter"`
	TransactionRef string    `db:"transaction_ref" json:"transactionRef"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}

// Repository provides loyalty account access and the atomic balance update.
type Repository interface {
	// GetProgram returns the program the customer is a member of, or a
	// NOT_FOUND AppError when there is no membership.
	GetProgram(ctx context.Context, customerID id.ID) (*benefit.LoyaltyProgram, error)

	// GetBalance returns the customer's current point balance.
	GetBalance(ctx context.Context, customerID id.ID) (int64, error)

	// UpdateBalance sets the balance with a conditional update that fails
	// with CONCURRENT_MODIFICATION when the balance has moved since
	// expected was read.
	UpdateBalance(ctx context.Context, customerID id.ID, expected, newBalance int64) error

	// AppendTransaction inserts one append-only ledger entry.
	AppendTransaction(ctx context.Context, trx *Transaction) error
}

const settleMaxRetries = 3

// Ledger computes points earned/redeemed and maintains customer balances.
type Ledger struct {
	repo       Repository
	maxRetries int
	now        func() time.Time
}

// NewLedger creates a loyalty ledger.
func NewLedger(repo Repository) *Ledger {
	return &Ledger{
		repo:       repo,
		maxRetries: settleMaxRetries,
		now:        time.Now,
	}
}

// EarnedPoints returns floor(finalAmount * earnRate).
func EarnedPoints(program *benefit.LoyaltyProgram, finalAmount types.Money) int64 {
	return finalAmount.Mul(program.EarnRate).Floor().IntPart()
}

// RedemptionValue returns the cash-equivalent discount of redeeming points.
func RedemptionValue(program *benefit.LoyaltyProgram, points int64) types.Money {
	return program.RedemptionRate.Mul(decimal.NewFromInt(points))
}

// Program returns the customer's loyalty program, or nil when the customer
// has no membership.
func (l *Ledger) Program(ctx context.Context, customerID id.ID) (*benefit.LoyaltyProgram, error) {
	program, err := l.repo.GetProgram(ctx, customerID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return program, nil
}

// Balance returns the customer's current point balance.
func (l *Ledger) Balance(ctx context.Context, customerID id.ID) (int64, error) {
	return l.repo.GetBalance(ctx, customerID)
}

// Settle computes points earned for the final payable amount, applies the
// requested redemption and appends a ledger entry. Must run inside the
// finalize transaction.
//
// The INSUFFICIENT_POINTS guard runs before any mutation, so the balance
// can never go negative. The balance write is a conditional update retried
// a bounded number of times under contention.
func (l *Ledger) Settle(ctx context.Context, customerID id.ID, finalAmount types.Money, pointsToRedeem int64, transactionRef string) (*Transaction, error) {
	if pointsToRedeem < 0 {
		return nil, apperror.NewValidation("points to redeem must not be negative").
			WithDetail("points", pointsToRedeem)
	}

	program, err := l.Program(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if program == nil || !program.Active {
		// An inactive program earns and redeems nothing, same as no
		// membership.
		if pointsToRedeem > 0 {
			return nil, apperror.NewInsufficientPoints(pointsToRedeem, 0)
		}
		return nil, nil
	}

	earned := EarnedPoints(program, finalAmount)

	for attempt := 0; attempt < l.maxRetries; attempt++ {
		balance, err := l.repo.GetBalance(ctx, customerID)
		if err != nil {
			return nil, err
		}

		if pointsToRedeem > balance {
			return nil, apperror.NewInsufficientPoints(pointsToRedeem, balance)
		}

		newBalance := balance - pointsToRedeem + earned
		err = l.repo.UpdateBalance(ctx, customerID, balance, newBalance)
		if err != nil {
			if apperror.IsConcurrentModification(err) {
				continue
			}
			return nil, err
		}

		trx := &Transaction{
			ID:             id.New(),
			CustomerID:     customerID,
			PointsEarned:   earned,
			PointsRedeemed: pointsToRedeem,
			BalanceBefore:  balance,
			BalanceAfter:   newBalance,
			TransactionRef: transactionRef,
			CreatedAt:      l.now(),
		}
		if err := l.repo.AppendTransaction(ctx, trx); err != nil {
			return nil, err
		}

		logger.Info(ctx, "loyalty settled",
			"customer_id", customerID,
			"points_earned", earned,
			"points_redeemed", pointsToRedeem,
			"balance_after", newBalance,
		)
		return trx, nil
	}

	return nil, apperror.NewConcurrentModification("loyalty_account", customerID.String())
}
