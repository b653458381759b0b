// Package benefit provides the discount calculation domain: trigger
// conditions, benefit sources, candidate collection and allocation.
package benefit

import (
	"time"

	"github.com/shopspring/decimal"

	"benefix/internal/core/apperror"
	"benefix/internal/core/types"
)

// Operator is a comparison operator in a rule trigger condition.
type Operator string

const (
	OpGTE Operator = ">="
	OpLTE Operator = "<="
	OpGT  Operator = ">"
	OpLT  Operator = "<"
	OpEQ  Operator = "="
)

// ConditionKind is the closed set of supported trigger condition variants.
// Unknown kinds are rejected when rules are loaded, not at evaluation time.
type ConditionKind string

const (
	// ConditionQuantity compares the line item quantity against a threshold.
	ConditionQuantity ConditionKind = "quantity"
	// ConditionAmount compares the line total (item scope) or the
	// transaction subtotal (order scope) against a threshold.
	ConditionAmount ConditionKind = "amount"
	// ConditionDateActive checks the evaluation time against a date window.
	ConditionDateActive ConditionKind = "date_active"
)

// Condition is a rule trigger condition: a tagged variant over
// {quantity, amount, date_active}.
type Condition struct {
	Kind      ConditionKind `json:"kind"`
	Operator  Operator      `json:"operator,omitempty"`
	Threshold types.Money   `json:"threshold,omitempty"`
	From      *time.Time    `json:"from,omitempty"`
	To        *time.Time    `json:"to,omitempty"`
}

// Facts is a read-only view of the transaction a condition is evaluated
// against. Line-level fields are nil outside item scope; a condition that
// needs a missing fact does not match.
type Facts struct {
	Subtotal  types.Money
	Quantity  *int
	LineTotal *types.Money
	Now       time.Time
}

// Matches evaluates the condition against transaction facts.
// A misconfigured rule must never block checkout: unknown operators and
// missing facts fail closed (return false) instead of raising.
func (c Condition) Matches(f Facts) bool {
	switch c.Kind {
	case ConditionQuantity:
		if f.Quantity == nil {
			return false
		}
		return compare(c.Operator, decimal.NewFromInt(int64(*f.Quantity)), c.Threshold)

	case ConditionAmount:
		base := f.Subtotal
		if f.LineTotal != nil {
			base = *f.LineTotal
		}
		return compare(c.Operator, base, c.Threshold)

	case ConditionDateActive:
		if c.From != nil && f.Now.Before(*c.From) {
			return false
		}
		if c.To != nil && f.Now.After(*c.To) {
			return false
		}
		return true

	default:
		return false
	}
}

// Validate rejects unknown condition variants at configuration-load time.
func (c Condition) Validate() error {
	switch c.Kind {
	case ConditionQuantity, ConditionAmount:
		switch c.Operator {
		case OpGTE, OpLTE, OpGT, OpLT, OpEQ:
			return nil
		default:
			return apperror.NewValidation("unknown condition operator").
				WithDetail("operator", string(c.Operator))
		}
	case ConditionDateActive:
		return nil
	default:
		return apperror.NewValidation("unknown condition kind").
			WithDetail("kind", string(c.Kind))
	}
}

func compare(op Operator, actual, threshold types.Money) bool {
	switch op {
	case OpGTE:
		return actual.GreaterThanOrEqual(threshold)
	case OpLTE:
		return actual.LessThanOrEqual(threshold)
	case OpGT:
		return actual.GreaterThan(threshold)
	case OpLT:
		return actual.LessThan(threshold)
	case OpEQ:
		return actual.Equal(threshold)
	default:
		return false
	}
}
