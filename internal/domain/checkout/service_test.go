package checkout

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
	"benefix/internal/domain/benefit"
	"benefix/internal/domain/coupon"
	"benefix/internal/domain/loyalty"
)

func money(s string) types.Money { return types.MustMoney(s) }

// stubBenefitRepo implements benefit.Repository with per-method overrides.
type stubBenefitRepo struct {
	itemRules  func(itemID id.ID) ([]benefit.DiscountRule, error)
	orderRules func() ([]benefit.DiscountRule, error)
	benefits   func(customerID id.ID) ([]benefit.CustomerBenefit, error)
	coupons    func(customerID *id.ID) ([]benefit.Coupon, error)
	program    func(customerID id.ID) (*benefit.LoyaltyProgram, error)
}

func (s *stubBenefitRepo) GetActiveItemRules(ctx context.Context, itemID id.ID, asOf time.Time) ([]benefit.DiscountRule, error) {
	if s.itemRules != nil {
		return s.itemRules(itemID)
	}
	return nil, nil
}

func (s *stubBenefitRepo) GetActiveOrderRules(ctx context.Context, asOf time.Time) ([]benefit.DiscountRule, error) {
	if s.orderRules != nil {
		return s.orderRules()
	}
	return nil, nil
}

func (s *stubBenefitRepo) GetCustomerBenefits(ctx context.Context, customerID id.ID, asOf time.Time) ([]benefit.CustomerBenefit, error) {
	if s.benefits != nil {
		return s.benefits(customerID)
	}
	return nil, nil
}

func (s *stubBenefitRepo) GetActiveCoupons(ctx context.Context, customerID *id.ID, asOf time.Time) ([]benefit.Coupon, error) {
	if s.coupons != nil {
		return s.coupons(customerID)
	}
	return nil, nil
}

func (s *stubBenefitRepo) GetLoyaltyProgram(ctx context.Context, customerID id.ID) (*benefit.LoyaltyProgram, error) {
	if s.program != nil {
		return s.program(customerID)
	}
	return nil, apperror.NewNotFound("loyalty_program", customerID.String())
}

// stubCouponRepo implements coupon.Repository.
type stubCouponRepo struct {
	byCode map[string]*benefit.Coupon

	incrementCalls []int
	records        []*coupon.UsageRecord
}

func (s *stubCouponRepo) GetByCode(ctx context.Context, code string) (*benefit.Coupon, error) {
	if cp, ok := s.byCode[code]; ok {
		return cp, nil
	}
	return nil, apperror.NewNotFound("coupon", code)
}

func (s *stubCouponRepo) HasUsage(ctx context.Context, couponID, customerID id.ID) (bool, error) {
	return false, nil
}

func (s *stubCouponRepo) IncrementUsage(ctx context.Context, couponID id.ID, expectedUses int) error {
	s.incrementCalls = append(s.incrementCalls, expectedUses)
	return nil
}

func (s *stubCouponRepo) CreateUsageRecord(ctx context.Context, rec *coupon.UsageRecord) error {
	s.records = append(s.records, rec)
	return nil
}

// stubLoyaltyRepo implements loyalty.Repository over an in-memory balance.
type stubLoyaltyRepo struct {
	programVal *benefit.LoyaltyProgram
	balanceVal int64

	entries []*loyalty.Transaction
}

func (s *stubLoyaltyRepo) GetProgram(ctx context.Context, customerID id.ID) (*benefit.LoyaltyProgram, error) {
	if s.programVal == nil {
		return nil, apperror.NewNotFound("loyalty_program", customerID.String())
	}
	return s.programVal, nil
}

func (s *stubLoyaltyRepo) GetBalance(ctx context.Context, customerID id.ID) (int64, error) {
	return s.balanceVal, nil
}

func (s *stubLoyaltyRepo) UpdateBalance(ctx context.Context, customerID id.ID, expected, newBalance int64) error {
	if expected != s.balanceVal {
		return apperror.NewConcurrentModification("loyalty_account", customerID.String())
	}
	s.balanceVal = newBalance
	return nil
}

func (s *stubLoyaltyRepo) AppendTransaction(ctx context.Context, trx *loyalty.Transaction) error {
	s.entries = append(s.entries, trx)
	return nil
}

// stubRecorder implements Recorder in memory, honoring the at-most-once
// finalized guarantee.
type stubRecorder struct {
	records   []*CalculationResult
	recordErr error
}

func (s *stubRecorder) Record(ctx context.Context, result *CalculationResult) error {
	if s.recordErr != nil {
		return s.recordErr
	}
	if result.Finalized {
		for _, r := range s.records {
			if r.Finalized && r.TransactionRef == result.TransactionRef {
				return apperror.NewAlreadyFinalized(result.TransactionRef)
			}
		}
	}
	s.records = append(s.records, result)
	return nil
}

func (s *stubRecorder) ListByRef(ctx context.Context, transactionRef string) ([]CalculationResult, error) {
	var out []CalculationResult
	for _, r := range s.records {
		if r.TransactionRef == transactionRef {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *stubRecorder) HasFinalized(ctx context.Context, transactionRef string) (bool, error) {
	for _, r := range s.records {
		if r.Finalized && r.TransactionRef == transactionRef {
			return true, nil
		}
	}
	return false, nil
}

// stubTxManager runs the callback directly; rollback semantics are the
// database's job and are covered by the postgres TxManager.
type stubTxManager struct {
	calls int
}

func (s *stubTxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	s.calls++
	return fn(ctx)
}

type fixture struct {
	benefitRepo *stubBenefitRepo
	couponRepo  *stubCouponRepo
	loyaltyRepo *stubLoyaltyRepo
	recorder    *stubRecorder
	txm         *stubTxManager
	service     *Service
}

func newFixture() *fixture {
	f := &fixture{
		benefitRepo: &stubBenefitRepo{},
		couponRepo:  &stubCouponRepo{byCode: map[string]*benefit.Coupon{}},
		loyaltyRepo: &stubLoyaltyRepo{},
		recorder:    &stubRecorder{},
		txm:         &stubTxManager{},
	}
	f.service = NewService(
		benefit.NewCollector(f.benefitRepo),
		coupon.NewLedger(f.couponRepo),
		loyalty.NewLedger(f.loyaltyRepo),
		f.recorder,
		f.txm,
	)
	f.service.now = func() time.Time {
		return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	}
	return f
}

func cartTransaction(customerID *id.ID) benefit.Transaction {
	return benefit.Transaction{
		Ref:        "trx-100",
		CustomerID: customerID,
		Lines: []benefit.Line{
			{ItemID: id.New(), Quantity: 4, UnitPrice: money("250")},
		},
	}
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

func flatOrderRule(value string, priority int) benefit.DiscountRule {
	return benefit.DiscountRule{
		ID:           id.New(),
		Name:         "flat " + value,
		Scope:        benefit.ScopeOrder,
		Condition:    benefit.Condition{Kind: benefit.ConditionDateActive},
		DiscountType: benefit.DiscountFixed,
		Value:        money(value),
		Priority:     priority,
		Active:       true,
	}
}

func TestCalculate_PreviewRecordsSnapshot(t *testing.T) {
	customerID := id.New()
	f := newFixture()
	f.benefitRepo.orderRules = func() ([]benefit.DiscountRule, error) {
		return []benefit.DiscountRule{flatOrderRule("100", 10)}, nil
	}
	f.benefitRepo.coupons = func(*id.ID) ([]benefit.Coupon, error) {
		return []benefit.Coupon{
			{ID: id.New(), Code: "TEN", DiscountType: benefit.DiscountPercentage, Value: money("10"), Policy: benefit.PolicyMultiUse, MaxUses: 100, Active: true},
		}, nil
	}
	f.benefitRepo.program = func(id.ID) (*benefit.LoyaltyProgram, error) {
		return rewardsProgram(), nil
	}
	f.loyaltyRepo.programVal = rewardsProgram()

	result, available, err := f.service.Calculate(context.Background(), cartTransaction(&customerID))
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, money("1000").Equal(result.Subtotal))
	assert.True(t, money("100").Equal(result.TotalDiscount))
	assert.True(t, money("900").Equal(result.FinalAmount))
	assert.Equal(t, int64(90), result.PointsEarned)
	assert.False(t, result.Finalized)

	require.Len(t, available, 1)
	assert.Equal(t, "TEN", available[0].Code)

	// Preview consumes nothing but is still audited.
	require.Len(t, f.recorder.records, 1)
	assert.Zero(t, f.txm.calls)
	assert.Empty(t, f.couponRepo.records)
	assert.Empty(t, f.loyaltyRepo.entries)
}

func TestCalculate_RejectsInvalidTransaction(t *testing.T) {
	f := newFixture()

	_, _, err := f.service.Calculate(context.Background(), benefit.Transaction{Ref: "trx-1"})
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))
	assert.Empty(t, f.recorder.records)
}

func TestFinalize_CommitsCouponsAndPoints(t *testing.T) {
	customerID := id.New()
	f := newFixture()
	f.benefitRepo.orderRules = func() ([]benefit.DiscountRule, error) {
		return []benefit.DiscountRule{flatOrderRule("50", 10)}, nil
	}
	couponID := id.New()
	f.couponRepo.byCode["TEN"] = &benefit.Coupon{
		ID:           couponID,
		Code:         "TEN",
		DiscountType: benefit.DiscountPercentage,
		Value:        money("10"),
		Policy:       benefit.PolicyMultiUse,
		MaxUses:      100,
		Uses:         7,
		Active:       true,
	}
	f.loyaltyRepo.programVal = rewardsProgram()
	f.loyaltyRepo.balanceVal = 500

	// Subtotal 1000: rule 50, coupon 10% = 100, 200 points at 0.05 = 10.
	result, err := f.service.Finalize(context.Background(), cartTransaction(&customerID), []string{"TEN"}, 200)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.Finalized)
	assert.True(t, money("160").Equal(result.TotalDiscount))
	assert.True(t, money("840").Equal(result.FinalAmount))
	assert.Equal(t, int64(84), result.PointsEarned)
	assert.Equal(t, int64(200), result.PointsRedeemed)

	// Points redemption allocates after every merchant discount.
	require.Len(t, result.Discounts, 3)
	assert.Equal(t, benefit.SourceLoyalty, result.Discounts[2].Source)
	assert.True(t, money("10").Equal(result.Discounts[2].AppliedAmount))

	// Coupon counter bumped against the read value, usage recorded with
	// the allocated amount.
	require.Equal(t, []int{7}, f.couponRepo.incrementCalls)
	require.Len(t, f.couponRepo.records, 1)
	assert.Equal(t, couponID, f.couponRepo.records[0].CouponID)
	assert.True(t, money("100").Equal(f.couponRepo.records[0].Amount))

	// Balance: 500 - 200 + 84.
	assert.Equal(t, int64(384), f.loyaltyRepo.balanceVal)
	require.Len(t, f.loyaltyRepo.entries, 1)

	assert.Equal(t, 1, f.txm.calls)
	require.Len(t, f.recorder.records, 1)
	assert.True(t, f.recorder.records[0].Finalized)
}

func TestFinalize_CrowdedOutCouponNotConsumed(t *testing.T) {
	customerID := id.New()
	f := newFixture()
	f.benefitRepo.orderRules = func() ([]benefit.DiscountRule, error) {
		return []benefit.DiscountRule{flatOrderRule("1000", 10)}, nil
	}
	f.couponRepo.byCode["TEN"] = &benefit.Coupon{
		ID:           id.New(),
		Code:         "TEN",
		DiscountType: benefit.DiscountFixed,
		Value:        money("10"),
		Policy:       benefit.PolicyMultiUse,
		MaxUses:      100,
		Active:       true,
	}

	// The order rule absorbs the whole subtotal; nothing is left for the
	// coupon, so it must not burn a use.
	result, err := f.service.Finalize(context.Background(), cartTransaction(&customerID), []string{"TEN"}, 0)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.FinalAmount.IsZero())
	require.Len(t, result.Discounts, 2)
	assert.False(t, result.Discounts[1].Applied)
	assert.True(t, result.Discounts[1].AppliedAmount.IsZero())

	assert.Empty(t, f.couponRepo.incrementCalls)
	assert.Empty(t, f.couponRepo.records)
	require.Len(t, f.recorder.records, 1)
	assert.True(t, f.recorder.records[0].Finalized)
}

func TestFinalize_SecondAttemptRejected(t *testing.T) {
	customerID := id.New()
	f := newFixture()

	_, err := f.service.Finalize(context.Background(), cartTransaction(&customerID), nil, 0)
	require.NoError(t, err)

	_, err = f.service.Finalize(context.Background(), cartTransaction(&customerID), nil, 0)
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeAlreadyFinalized))
	require.Len(t, f.recorder.records, 1)
}

func TestFinalize_DuplicateCouponCode(t *testing.T) {
	customerID := id.New()
	f := newFixture()
	f.couponRepo.byCode["TEN"] = &benefit.Coupon{
		ID:           id.New(),
		Code:         "TEN",
		DiscountType: benefit.DiscountFixed,
		Value:        money("10"),
		Policy:       benefit.PolicyMultiUse,
		MaxUses:      100,
		Active:       true,
	}

	_, err := f.service.Finalize(context.Background(), cartTransaction(&customerID), []string{"TEN", "TEN"}, 0)
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))
	assert.Empty(t, f.couponRepo.incrementCalls)
}

func TestFinalize_CouponAuthorizationFailureAborts(t *testing.T) {
	customerID := id.New()
	f := newFixture()

	_, err := f.service.Finalize(context.Background(), cartTransaction(&customerID), []string{"NOPE"}, 0)
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeInvalidCoupon))
	assert.Empty(t, f.recorder.records)
}

func TestFinalize_RedemptionRequiresCustomer(t *testing.T) {
	f := newFixture()

	_, err := f.service.Finalize(context.Background(), cartTransaction(nil), nil, 100)
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))
}

func TestFinalize_NegativeRedemptionRejected(t *testing.T) {
	customerID := id.New()
	f := newFixture()

	_, err := f.service.Finalize(context.Background(), cartTransaction(&customerID), nil, -1)
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))
}

func TestFinalize_InsufficientPointsBeforeMutation(t *testing.T) {
	customerID := id.New()
	f := newFixture()
	f.loyaltyRepo.programVal = rewardsProgram()
	f.loyaltyRepo.balanceVal = 50

	_, err := f.service.Finalize(context.Background(), cartTransaction(&customerID), nil, 100)
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeInsufficientPoints))
	assert.Zero(t, f.txm.calls)
	assert.Empty(t, f.recorder.records)
}

func TestFinalize_RedemptionWithoutMembership(t *testing.T) {
	customerID := id.New()
	f := newFixture()

	_, err := f.service.Finalize(context.Background(), cartTransaction(&customerID), nil, 100)
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeInsufficientPoints))
}

func TestFinalize_RecorderFailureAbortsCommit(t *testing.T) {
	customerID := id.New()
	f := newFixture()
	f.recorder.recordErr = errors.New("disk full")

	result, err := f.service.Finalize(context.Background(), cartTransaction(&customerID), nil, 0)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, 1, f.txm.calls)
}

func TestCalculations_ReturnsHistoryOldestFirst(t *testing.T) {
	customerID := id.New()
	f := newFixture()

	_, _, err := f.service.Calculate(context.Background(), cartTransaction(&customerID))
	require.NoError(t, err)
	_, err = f.service.Finalize(context.Background(), cartTransaction(&customerID), nil, 0)
	require.NoError(t, err)

	history, err := f.service.Calculations(context.Background(), "trx-100")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.False(t, history[0].Finalized)
	assert.True(t, history[1].Finalized)
}

func TestCalculations_RequiresRef(t *testing.T) {
	f := newFixture()

	_, err := f.service.Calculations(context.Background(), "")
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))
}
