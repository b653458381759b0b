package checkout

import (
	"context"
	"math"
	"time"

	"benefix/internal/core/apperror"
	"benefix/internal/core/id"
	"benefix/internal/core/tx"
	"benefix/internal/core/types"
	"benefix/internal/domain/benefit"
	"benefix/internal/domain/coupon"
	"benefix/internal/domain/loyalty"
	"benefix/pkg/logger"
)

// loyaltyRedemptionPriority places the points redemption candidate after
// every merchant-configured discount, so points are only spent against the
// balance left once all other discounts have allocated.
const loyaltyRedemptionPriority = math.MinInt32

// Service is the checkout calculation engine entry point. Calculate is a
// pure preview; Finalize commits coupon and loyalty mutations atomically.
type Service struct {
	collector *benefit.Collector
	coupons   *coupon.Ledger
	loyalty   *loyalty.Ledger
	recorder  Recorder
	txManager tx.Manager
	now       func() time.Time
}

// NewService creates the checkout service.
func NewService(
	collector *benefit.Collector,
	coupons *coupon.Ledger,
	loyaltyLedger *loyalty.Ledger,
	recorder Recorder,
	txManager tx.Manager,
) *Service {
	return &Service{
		collector: collector,
		coupons:   coupons,
		loyalty:   loyaltyLedger,
		recorder:  recorder,
		txManager: txManager,
		now:       time.Now,
	}
}

// Calculate previews the discount allocation for a transaction. Idempotent:
// repeated calls with the same cart and configuration produce the same
// result, and nothing is consumed. Coupons are returned as available, never
// applied here. The snapshot is recorded for audit.
func (s *Service) Calculate(ctx context.Context, trx benefit.Transaction) (*CalculationResult, []benefit.Coupon, error) {
	if err := trx.Validate(ctx); err != nil {
		return nil, nil, err
	}

	asOf := s.now()
	collected := s.collector.Collect(ctx, trx, asOf, benefit.NewCache())
	alloc := benefit.Allocate(trx.Subtotal(), collected.Candidates)

	result := s.newResult(trx.Ref, alloc, asOf)

	// Projected earning only; the actual ledger entry is written at finalize.
	if trx.CustomerID != nil {
		program, err := s.loyalty.Program(ctx, *trx.CustomerID)
		if err != nil {
			logger.Warn(ctx, "loyalty projection unavailable",
				"customer_id", *trx.CustomerID,
				"error", err,
			)
		} else if program != nil && program.Active {
			result.PointsEarned = loyalty.EarnedPoints(program, alloc.FinalAmount)
		}
	}

	if err := s.recorder.Record(ctx, result); err != nil {
		return nil, nil, err
	}

	return result, collected.AvailableCoupons, nil
}

// Finalize commits the transaction: coupons named by the caller are
// redeemed, loyalty points are settled and the finalized snapshot is
// recorded, all inside one database transaction. At most one finalize
// succeeds per transaction ref; repeats fail with ALREADY_FINALIZED.
func (s *Service) Finalize(ctx context.Context, trx benefit.Transaction, couponCodes []string, redeemPoints int64) (*CalculationResult, error) {
	if err := trx.Validate(ctx); err != nil {
		return nil, err
	}
	if redeemPoints < 0 {
		return nil, apperror.NewValidation("points to redeem must not be negative").
			WithDetail("points", redeemPoints)
	}

	// Fast-path guard; the recorder's uniqueness constraint is the
	// authoritative check under concurrency.
	finalized, err := s.recorder.HasFinalized(ctx, trx.Ref)
	if err != nil {
		return nil, err
	}
	if finalized {
		return nil, apperror.NewAlreadyFinalized(trx.Ref)
	}

	asOf := s.now()
	subtotal := trx.Subtotal()
	collected := s.collector.Collect(ctx, trx, asOf, benefit.NewCache())
	candidates := collected.Candidates

	authorized, err := s.authorizeCoupons(ctx, trx, subtotal, couponCodes, asOf)
	if err != nil {
		return nil, err
	}
	for _, cp := range authorized {
		candidates = append(candidates, benefit.CandidateFromCoupon(cp, subtotal))
	}

	if redeemPoints > 0 {
		redemption, err := s.redemptionCandidate(ctx, trx.CustomerID, redeemPoints)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, redemption)
	}

	alloc := benefit.Allocate(subtotal, candidates)

	result := s.newResult(trx.Ref, alloc, asOf)
	result.Finalized = true

	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		for _, cp := range authorized {
			amount := appliedAmount(alloc, benefit.SourceCoupon, cp.ID)
			if amount.IsZero() {
				// Crowded out by higher-priority discounts; the coupon
				// stays unconsumed.
				logger.Info(ctx, "coupon not consumed, nothing allocated",
					"coupon_code", cp.Code,
					"transaction_ref", trx.Ref,
				)
				continue
			}
			if _, err := s.coupons.Redeem(ctx, cp, trx.CustomerID, trx.Ref, amount); err != nil {
				return err
			}
		}

		if trx.CustomerID != nil {
			ltrx, err := s.loyalty.Settle(ctx, *trx.CustomerID, alloc.FinalAmount, redeemPoints, trx.Ref)
			if err != nil {
				return err
			}
			if ltrx != nil {
				result.PointsEarned = ltrx.PointsEarned
				result.PointsRedeemed = ltrx.PointsRedeemed
			}
		}

		return s.recorder.Record(ctx, result)
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "transaction finalized",
		"transaction_ref", trx.Ref,
		"subtotal", result.Subtotal.String(),
		"total_discount", result.TotalDiscount.String(),
		"final_amount", result.FinalAmount.String(),
		"points_earned", result.PointsEarned,
		"points_redeemed", result.PointsRedeemed,
	)
	return result, nil
}

// Calculations returns the recorded snapshot history for a transaction.
func (s *Service) Calculations(ctx context.Context, transactionRef string) ([]CalculationResult, error) {
	if transactionRef == "" {
		return nil, apperror.NewValidation("transaction ref is required").
			WithDetail("field", "ref")
	}
	return s.recorder.ListByRef(ctx, transactionRef)
}

// authorizeCoupons validates every requested coupon before any mutation,
// so one bad code fails the whole finalize with its named error instead of
// being silently skipped.
func (s *Service) authorizeCoupons(ctx context.Context, trx benefit.Transaction, subtotal types.Money, codes []string, asOf time.Time) ([]*benefit.Coupon, error) {
	if len(codes) == 0 {
		return nil, nil
	}

	seen := make(map[string]struct{}, len(codes))
	authorized := make([]*benefit.Coupon, 0, len(codes))
	for _, code := range codes {
		if _, ok := seen[code]; ok {
			return nil, apperror.NewValidation("coupon code listed more than once").
				WithDetail("coupon_code", code)
		}
		seen[code] = struct{}{}

		cp, err := s.coupons.Authorize(ctx, code, subtotal, trx.CustomerID, asOf)
		if err != nil {
			return nil, err
		}
		authorized = append(authorized, cp)
	}
	return authorized, nil
}

// redemptionCandidate turns a points redemption request into a discount
// candidate. The balance pre-check here rejects obviously overdrawn
// requests early; Settle re-guards against the live balance before the
// ledger mutation.
func (s *Service) redemptionCandidate(ctx context.Context, customerID *id.ID, points int64) (benefit.Candidate, error) {
	if customerID == nil {
		return benefit.Candidate{}, apperror.NewValidation("points redemption requires an identified customer").
			WithDetail("points", points)
	}

	program, err := s.loyalty.Program(ctx, *customerID)
	if err != nil {
		return benefit.Candidate{}, err
	}
	if program == nil || !program.Active {
		return benefit.Candidate{}, apperror.NewInsufficientPoints(points, 0)
	}

	balance, err := s.loyalty.Balance(ctx, *customerID)
	if err != nil {
		return benefit.Candidate{}, err
	}
	if points > balance {
		return benefit.Candidate{}, apperror.NewInsufficientPoints(points, balance)
	}

	return benefit.Candidate{
		Source:   benefit.SourceLoyalty,
		SourceID: program.ID,
		Name:     program.Name,
		RawValue: loyalty.RedemptionValue(program, points),
		Priority: loyaltyRedemptionPriority,
	}, nil
}

func (s *Service) newResult(transactionRef string, alloc benefit.Allocation, asOf time.Time) *CalculationResult {
	return &CalculationResult{
		ID:             id.New(),
		TransactionRef: transactionRef,
		Subtotal:       alloc.Subtotal,
		Discounts:      alloc.Discounts,
		TotalDiscount:  alloc.TotalDiscount,
		FinalAmount:    alloc.FinalAmount,
		CalculatedAt:   asOf,
	}
}

// appliedAmount finds the allocated amount for one candidate source.
func appliedAmount(alloc benefit.Allocation, source benefit.SourceType, sourceID id.ID) types.Money {
	for _, d := range alloc.Discounts {
		if d.Source == source && d.SourceID == sourceID {
			return d.AppliedAmount
		}
	}
	return types.Zero()
}
