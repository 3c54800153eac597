// Package fraud decides whether a held transfer may be posted.
package fraud

import (
	"fmt"
	"math/big"

	"ledgerflow/internal/events"

	"github.com/shopspring/decimal"
)

type Verdict struct {
	Status events.Status // approved or rejected
	Reason string
}

func Approve() Verdict { return Verdict{Status: events.StatusApproved} }

func Reject(reason string) Verdict { return Verdict{Status: events.StatusRejected, Reason: reason} }

// Policy must be deterministic: a redelivered event gets the same verdict.
type Policy interface {
	Decide(tx events.TransactionCreated) Verdict
}

type PolicyFunc func(tx events.TransactionCreated) Verdict

func (f PolicyFunc) Decide(tx events.TransactionCreated) Verdict { return f(tx) }

// ThresholdPolicy rejects transfers whose scaled amount exceeds Limit.
type ThresholdPolicy struct {
	Limit decimal.Decimal
}

func NewThresholdPolicy(limit string) (ThresholdPolicy, error) {
	d, err := decimal.NewFromString(limit)
	if err != nil {
		return ThresholdPolicy{}, fmt.Errorf("fraud: threshold %q: %w", limit, err)
	}
	if d.IsNegative() {
		return ThresholdPolicy{}, fmt.Errorf("fraud: threshold %q must not be negative", limit)
	}
	return ThresholdPolicy{Limit: d}, nil
}

// Value is amount / 10^scale.
func Value(amount uint64, scale int32) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -scale)
}

func (p ThresholdPolicy) Decide(tx events.TransactionCreated) Verdict {
	v := Value(uint64(tx.Amount), tx.Scale)
	if v.GreaterThan(p.Limit) {
		return Reject(fmt.Sprintf("amount %s exceeds %s", v.String(), p.Limit.String()))
	}
	return Approve()
}
