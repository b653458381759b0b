package loyalty

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"benefix/internal/core/apperror"
	"benefix/internal/core/id"
	"benefix/internal/core/types"
	"benefix/internal/domain/benefit"
)

func money(s string) types.Money { return types.MustMoney(s) }

// mockRepo is a hand-rolled loyalty.Repository with per-method overrides.
type mockRepo struct {
	program       func(customerID id.ID) (*benefit.LoyaltyProgram, error)
	balance       func(customerID id.ID) (int64, error)
	updateBalance func(customerID id.ID, expected, newBalance int64) error

	updateCalls int
	entries     []*Transaction
}

func (m *mockRepo) GetProgram(ctx context.Context, customerID id.ID) (*benefit.LoyaltyProgram, error) {
	if m.program != nil {
		return m.program(customerID)
	}
	return nil, apperror.NewNotFound("loyalty_program", customerID.String())
}

func (m *mockRepo) GetBalance(ctx context.Context, customerID id.ID) (int64, error) {
	if m.balance != nil {
		return m.balance(customerID)
	}
	return 0, nil
}

func (m *mockRepo) UpdateBalance(ctx context.Context, customerID id.ID, expected, newBalance int64) error {
	m.updateCalls++
	if m.updateBalance != nil {
		return m.updateBalance(customerID, expected, newBalance)
	}
	return nil
}

func (m *mockRepo) AppendTransaction(ctx context.Context, trx *Transaction) error {
	m.entries = append(m.entries, trx)
	return nil
}

func rewardsProgram() *benefit.LoyaltyProgram {
	return &benefit.LoyaltyProgram{
		ID:             id.New(),
		Name:           "rewards",
		EarnRate:       money("0.1"),
		RedemptionRate: money("0.05"),
		Active:         true,
	}
}

func TestEarnedPoints_Floors(t *testing.T) {
	program := rewardsProgram()

	assert.Equal(t, int64(87), EarnedPoints(program, money("870")))
	assert.Equal(t, int64(87), EarnedPoints(program, money("879.99")))
	assert.Equal(t, int64(0), EarnedPoints(program, money("9.99")))
}

func TestRedemptionValue(t *testing.T) {
	program := rewardsProgram()

	assert.True(t, money("25").Equal(RedemptionValue(program, 500)))
	assert.True(t, RedemptionValue(program, 0).IsZero())
}

func TestSettle_EarnAndRedeem(t *testing.T) {
	customerID := id.New()
	repo := &mockRepo{
		program: func(id.ID) (*benefit.LoyaltyProgram, error) { return rewardsProgram(), nil },
		balance: func(id.ID) (int64, error) { return 500, nil },
	}
	ledger := NewLedger(repo)

	trx, err := ledger.Settle(context.Background(), customerID, money("870"), 200, "trx-1")
	require.NoError(t, err)
	require.NotNil(t, trx)

	assert.Equal(t, int64(87), trx.PointsEarned)
	assert.Equal(t, int64(200), trx.PointsRedeemed)
	assert.Equal(t, int64(500), trx.BalanceBefore)
	assert.Equal(t, int64(387), trx.BalanceAfter)
	assert.Equal(t, "trx-1", trx.TransactionRef)
	require.Len(t, repo.entries, 1)
}

func TestSettle_InsufficientPointsBeforeAnyMutation(t *testing.T) {
	customerID := id.New()
	repo := &mockRepo{
		program: func(id.ID) (*benefit.LoyaltyProgram, error) { return rewardsProgram(), nil },
		balance: func(id.ID) (int64, error) { return 100, nil },
	}
	ledger := NewLedger(repo)

	_, err := ledger.Settle(context.Background(), customerID, money("870"), 200, "trx-1")
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeInsufficientPoints))
	assert.Zero(t, repo.updateCalls)
	assert.Empty(t, repo.entries)
}

func TestSettle_NoMembership(t *testing.T) {
	customerID := id.New()
	ledger := NewLedger(&mockRepo{})

	// Nothing to settle without a membership.
	trx, err := ledger.Settle(context.Background(), customerID, money("100"), 0, "trx-1")
	require.NoError(t, err)
	assert.Nil(t, trx)

	// But redeeming without a membership is an error.
	_, err = ledger.Settle(context.Background(), customerID, money("100"), 10, "trx-1")
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeInsufficientPoints))
}

func TestSettle_InactiveProgramIsNoMembership(t *testing.T) {
	customerID := id.New()
	inactive := rewardsProgram()
	inactive.Active = false
	repo := &mockRepo{
		program: func(id.ID) (*benefit.LoyaltyProgram, error) { return inactive, nil },
		balance: func(id.ID) (int64, error) { return 500, nil },
	}
	ledger := NewLedger(repo)

	// No earning against a deactivated program.
	trx, err := ledger.Settle(context.Background(), customerID, money("870"), 0, "trx-1")
	require.NoError(t, err)
	assert.Nil(t, trx)
	assert.Zero(t, repo.updateCalls)
	assert.Empty(t, repo.entries)

	// And no redemption either, whatever the balance says.
	_, err = ledger.Settle(context.Background(), customerID, money("870"), 100, "trx-1")
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeInsufficientPoints))
}

func TestSettle_NegativePointsRejected(t *testing.T) {
	ledger := NewLedger(&mockRepo{})

	_, err := ledger.Settle(context.Background(), id.New(), money("100"), -5, "trx-1")
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))
}

func TestSettle_RetriesConditionalUpdate(t *testing.T) {
	customerID := id.New()
	balance := int64(500)
	repo := &mockRepo{
		program: func(id.ID) (*benefit.LoyaltyProgram, error) { return rewardsProgram(), nil },
	}
	repo.balance = func(id.ID) (int64, error) { return balance, nil }
	repo.updateBalance = func(_ id.ID, expected, newBalance int64) error {
		if repo.updateCalls == 1 {
			// Another settlement moved the balance between read and write.
			balance = 450
			return apperror.NewConcurrentModification("loyalty_account", customerID.String())
		}
		assert.Equal(t, int64(450), expected)
		return nil
	}
	ledger := NewLedger(repo)

	trx, err := ledger.Settle(context.Background(), customerID, money("100"), 50, "trx-1")
	require.NoError(t, err)
	require.NotNil(t, trx)
	assert.Equal(t, int64(450), trx.BalanceBefore)
	assert.Equal(t, int64(410), trx.BalanceAfter)
	assert.Equal(t, 2, repo.updateCalls)
}

func TestSettle_RetriesExhausted(t *testing.T) {
	customerID := id.New()
	repo := &mockRepo{
		program: func(id.ID) (*benefit.LoyaltyProgram, error) { return rewardsProgram(), nil },
		balance: func(id.ID) (int64, error) { return 500, nil },
		updateBalance: func(id.ID, int64, int64) error {
			return apperror.NewConcurrentModification("loyalty_account", customerID.String())
		},
	}
	ledger := NewLedger(repo)

	_, err := ledger.Settle(context.Background(), customerID, money("100"), 0, "trx-1")
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeConcurrentModification))
	assert.Equal(t, settleMaxRetries, repo.updateCalls)
}
