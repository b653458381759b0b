// Package main provides a CLI tool for seeding the database with demo
// discount configuration.
package main

import (
	"context"
	"fmt"
	"os"

	"benefix/db"
	"benefix/internal/core/apperror"
	"benefix/internal/core/id"
	"benefix/internal/core/types"
	"benefix/internal/domain/benefit"
	"benefix/internal/infrastructure/storage/postgres"
	"benefix/internal/infrastructure/storage/postgres/promo_repo"
	"benefix/pkg/logger"
)

func main() {
	log, err := logger.New(logger.Config{
		Level:       "info",
		Development: true,
	})
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(dbURL))
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	log.Info("connected to database")

	if os.Getenv("SEED_APPLY_SCHEMA") == "true" {
		if _, err := pool.Exec(ctx, db.Schema); err != nil {
			log.Fatalw("failed to apply schema", "error", err)
		}
		log.Info("schema applied")
	}

	if os.Getenv("SEED_DEMO_DATA") == "true" {
		if err := seedDemoData(ctx, pool, log); err != nil {
			log.Fatalw("failed to seed demo data", "error", err)
		}
	}

	log.Info("seeding completed successfully")
}

func seedDemoData(ctx context.Context, pool *postgres.Pool, log *logger.Logger) error {
	txManager := postgres.NewTxManager(pool)
	benefitRepo := promo_repo.NewBenefitRepo(txManager)
	couponRepo := promo_repo.NewCouponRepo(txManager)
	loyaltyRepo := promo_repo.NewLoyaltyRepo(txManager)

	// WELCOME10 doubles as the idempotence marker for reruns.
	if _, err := couponRepo.GetByCode(ctx, "WELCOME10"); err == nil {
		log.Info("demo data already present, skipping")
		return nil
	} else if !apperror.IsNotFound(err) {
		return err
	}

	demoItemID := id.New()
	demoCustomerID := id.New()

	return txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		bulkRule := &benefit.DiscountRule{
			ID:     id.New(),
			Name:   "Bulk item discount",
			Scope:  benefit.ScopeItem,
			ItemID: &demoItemID,
			Condition: benefit.Condition{
				Kind:      benefit.ConditionQuantity,
				Operator:  benefit.OpGTE,
				Threshold: types.NewMoneyFromInt(3),
			},
			DiscountType: benefit.DiscountPercentage,
			Value:        types.NewMoneyFromInt(10),
			Cap:          capOf(80),
			Priority:     20,
			Active:       true,
		}

		orderRule := &benefit.DiscountRule{
			ID:    id.New(),
			Name:  "Big order discount",
			Scope: benefit.ScopeOrder,
			Condition: benefit.Condition{
				Kind:      benefit.ConditionAmount,
				Operator:  benefit.OpGTE,
				Threshold: types.NewMoneyFromInt(1000),
			},
			DiscountType: benefit.DiscountFixed,
			Value:        types.NewMoneyFromInt(50),
			Priority:     10,
			Active:       true,
		}

		for _, rule := range []*benefit.DiscountRule{bulkRule, orderRule} {
			if err := rule.Validate(ctx); err != nil {
				return err
			}
			if err := benefitRepo.CreateRule(ctx, rule); err != nil {
				return err
			}
		}

		welcome := &benefit.Coupon{
			ID:           id.New(),
			Code:         "WELCOME10",
			DiscountType: benefit.DiscountPercentage,
			Value:        types.NewMoneyFromInt(10),
			MinOrder:     capOf(200),
			Policy:       benefit.PolicyMultiUse,
			MaxUses:      1000,
			Active:       true,
		}

		vipOnce := &benefit.Coupon{
			ID:           id.New(),
			Code:         "VIP-ONCE",
			DiscountType: benefit.DiscountFixed,
			Value:        types.NewMoneyFromInt(100),
			Policy:       benefit.PolicySingleUsePerCustomer,
			Active:       true,
		}

		for _, cp := range []*benefit.Coupon{welcome, vipOnce} {
			if err := cp.Validate(ctx); err != nil {
				return err
			}
			if err := couponRepo.CreateCoupon(ctx, cp); err != nil {
				return err
			}
		}

		goldTier := &benefit.CustomerBenefit{
			ID:           id.New(),
			CustomerID:   demoCustomerID,
			Name:         "Gold tier",
			DiscountType: benefit.DiscountPercentage,
			Value:        types.NewMoneyFromInt(5),
			Priority:     30,
			Active:       true,
		}
		if err := benefitRepo.CreateBenefit(ctx, goldTier); err != nil {
			return err
		}

		program := &benefit.LoyaltyProgram{
			ID:             id.New(),
			Name:           "Rewards",
			EarnRate:       types.MustMoney("0.1"),
			RedemptionRate: types.MustMoney("0.05"),
			Active:         true,
		}
		if err := loyaltyRepo.CreateProgram(ctx, program); err != nil {
			return err
		}

		memberRule := &benefit.DiscountRule{
			ID:    id.New(),
			Name:  "Member discount",
			Scope: benefit.ScopeOrder,
			Condition: benefit.Condition{
				Kind: benefit.ConditionDateActive,
			},
			DiscountType: benefit.DiscountPercentage,
			Value:        types.NewMoneyFromInt(2),
			Priority:     5,
			Active:       true,
		}
		if err := benefitRepo.CreateRule(ctx, memberRule); err != nil {
			return err
		}
		if err := loyaltyRepo.AttachProgramRule(ctx, program.ID, memberRule.ID); err != nil {
			return err
		}

		if err := loyaltyRepo.CreateMembership(ctx, demoCustomerID, program.ID); err != nil {
			return err
		}
		if err := loyaltyRepo.UpdateBalance(ctx, demoCustomerID, 0, 500); err != nil {
			return err
		}

		log.Infow("demo data created",
			"demo_item_id", demoItemID,
			"demo_customer_id", demoCustomerID,
		)
		return nil
	})
}

func capOf(v int64) *types.Money {
	m := types.NewMoneyFromInt(v)
	return &m
}
