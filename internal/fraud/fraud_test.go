package fraud

import (
	"testing"

	"ledgerflow/internal/codec"
	"ledgerflow/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tx(amount uint64, scale int32) events.TransactionCreated {
	return events.TransactionCreated{
		TransactionID:  "t-1",
		TransferFields: events.TransferFields{Amount: codec.Uint(amount)},
		Scale:          scale,
		Status:         events.StatusPending,
	}
}

func TestThresholdPolicy(t *testing.T) {
	p, err := NewThresholdPolicy("1000.00")
	require.NoError(t, err)

	assert.Equal(t, events.StatusApproved, p.Decide(tx(500, 2)).Status)
	assert.Equal(t, events.StatusApproved, p.Decide(tx(100000, 2)).Status)

	v := p.Decide(tx(200000, 2))
	assert.Equal(t, events.StatusRejected, v.Status)
	assert.Contains(t, v.Reason, "2000")
}

func TestValueScales(t *testing.T) {
	assert.Equal(t, "5", Value(500, 2).String())
	assert.Equal(t, "0.000001", Value(1, 6).String())
	assert.Equal(t, "18446744073709551615", Value(^uint64(0), 0).String())
}

func TestNewThresholdPolicyRejectsGarbage(t *testing.T) {
	_, err := NewThresholdPolicy("lots")
	assert.Error(t, err)
	_, err = NewThresholdPolicy("-1")
	assert.Error(t, err)
}

func TestPolicyFunc(t *testing.T) {
	p := PolicyFunc(func(events.TransactionCreated) Verdict { return Reject("always") })
	assert.Equal(t, Reject("always"), p.Decide(tx(1, 0)))
}
