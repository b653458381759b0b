package benefit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"benefix/internal/core/types"
)

func intPtr(v int) *int { return &v }

func moneyPtr(s string) *types.Money {
	m := types.MustMoney(s)
	return &m
}

func TestCondition_Matches(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	yesterday := now.Add(-24 * time.Hour)
	tomorrow := now.Add(24 * time.Hour)

	tests := []struct {
		name      string
		condition Condition
		facts     Facts
		want      bool
	}{
		{
			name:      "quantity gte met",
			condition: Condition{Kind: ConditionQuantity, Operator: OpGTE, Threshold: types.NewMoneyFromInt(3)},
			facts:     Facts{Quantity: intPtr(3), Now: now},
			want:      true,
		},
		{
			name:      "quantity gte not met",
			condition: Condition{Kind: ConditionQuantity, Operator: OpGTE, Threshold: types.NewMoneyFromInt(3)},
			facts:     Facts{Quantity: intPtr(2), Now: now},
			want:      false,
		},
		{
			name:      "quantity without quantity fact fails closed",
			condition: Condition{Kind: ConditionQuantity, Operator: OpGTE, Threshold: types.NewMoneyFromInt(1)},
			facts:     Facts{Subtotal: types.NewMoneyFromInt(500), Now: now},
			want:      false,
		},
		{
			name:      "amount uses line total when present",
			condition: Condition{Kind: ConditionAmount, Operator: OpGTE, Threshold: types.NewMoneyFromInt(100)},
			facts:     Facts{Subtotal: types.NewMoneyFromInt(1000), LineTotal: moneyPtr("50"), Now: now},
			want:      false,
		},
		{
			name:      "amount falls back to subtotal",
			condition: Condition{Kind: ConditionAmount, Operator: OpGTE, Threshold: types.NewMoneyFromInt(100)},
			facts:     Facts{Subtotal: types.NewMoneyFromInt(1000), Now: now},
			want:      true,
		},
		{
			name:      "amount less than",
			condition: Condition{Kind: ConditionAmount, Operator: OpLT, Threshold: types.NewMoneyFromInt(100)},
			facts:     Facts{Subtotal: types.NewMoneyFromInt(99), Now: now},
			want:      true,
		},
		{
			name:      "date active inside window",
			condition: Condition{Kind: ConditionDateActive, From: &yesterday, To: &tomorrow},
			facts:     Facts{Now: now},
			want:      true,
		},
		{
			name:      "date active before window",
			condition: Condition{Kind: ConditionDateActive, From: &tomorrow},
			facts:     Facts{Now: now},
			want:      false,
		},
		{
			name:      "date active after window",
			condition: Condition{Kind: ConditionDateActive, To: &yesterday},
			facts:     Facts{Now: now},
			want:      false,
		},
		{
			name:      "date active open window",
			condition: Condition{Kind: ConditionDateActive},
			facts:     Facts{Now: now},
			want:      true,
		},
		{
			name:      "unknown kind fails closed",
			condition: Condition{Kind: ConditionKind("mystery"), Operator: OpGTE},
			facts:     Facts{Subtotal: types.NewMoneyFromInt(1000), Now: now},
			want:      false,
		},
		{
			name:      "unknown operator fails closed",
			condition: Condition{Kind: ConditionAmount, Operator: Operator("~="), Threshold: types.NewMoneyFromInt(1)},
			facts:     Facts{Subtotal: types.NewMoneyFromInt(1000), Now: now},
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.condition.Matches(tt.facts))
		})
	}
}

func TestCondition_Validate(t *testing.T) {
	valid := Condition{Kind: ConditionQuantity, Operator: OpGTE, Threshold: types.NewMoneyFromInt(1)}
	assert.NoError(t, valid.Validate())

	dateOnly := Condition{Kind: ConditionDateActive}
	assert.NoError(t, dateOnly.Validate())

	badKind := Condition{Kind: ConditionKind("mystery"), Operator: OpGTE}
	assert.Error(t, badKind.Validate())

	badOp := Condition{Kind: ConditionAmount, Operator: Operator("between")}
	assert.Error(t, badOp.Validate())
}
