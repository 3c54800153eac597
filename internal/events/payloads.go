package events

import (
	"math"
	"time"

	"ledgerflow/internal/codec"
)

// TransferFields is the transfer description shared by every transfer topic.
type TransferFields struct {
	Number          codec.Uint `json:"number"`
	DebitAccountID  codec.Uint `json:"debit_account_id"`
	CreditAccountID codec.Uint `json:"credit_account_id"`
	Amount          codec.Uint `json:"amount"`
	Code            codec.Uint `json:"code"`
	Ledger          codec.Uint `json:"ledger"`
}

func (f TransferFields) validate() error {
	switch {
	case f.Number == 0 || f.Number > math.MaxInt64:
		return codec.Invalid("number", "must be in 1..9223372036854775807")
	case f.DebitAccountID == 0:
		return codec.Invalid("debit_account_id", "must be positive")
	case f.CreditAccountID == 0:
		return codec.Invalid("credit_account_id", "must be positive")
	case f.DebitAccountID == f.CreditAccountID:
		return codec.Invalid("credit_account_id", "must differ from debit_account_id")
	case f.Amount == 0:
		return codec.Invalid("amount", "must be positive")
	case f.Code == 0 || f.Code > math.MaxUint16:
		return codec.Invalid("code", "must be in 1..65535")
	case f.Ledger == 0 || f.Ledger > math.MaxUint32:
		return codec.Invalid("ledger", "must be in 1..4294967295")
	}
	return nil
}

// Key is the partition key of every record about this transfer.
func (f TransferFields) Key() string { return f.Number.String() }

// TransferRequest enters the saga on transfer-request or the
// transactions-create rpc.
type TransferRequest struct {
	TransferFields
}

func (r TransferRequest) Validate() error { return r.validate() }

// TransactionCreated is published once the ledger holds the funds. It is also
// the reply of the transactions-create rpc, where Status may be rejected.
type TransactionCreated struct {
	TransactionID string `json:"transaction_id,omitempty"`
	TransferFields
	Scale        int32     `json:"scale"`
	Status       Status    `json:"status"`
	CreationDate time.Time `json:"creation_date"`
	Reason       string    `json:"reason,omitempty"`
}

func (m TransactionCreated) Validate() error {
	if err := m.validate(); err != nil {
		return err
	}
	switch m.Status {
	case StatusPending:
		if m.TransactionID == "" {
			return codec.Invalid("transaction_id", "required for pending transactions")
		}
	case StatusRejected:
	default:
		return codec.Invalid("status", "must be pending or rejected")
	}
	if m.Scale < 0 {
		return codec.Invalid("scale", "must not be negative")
	}
	return nil
}

// FraudVerdict is the decision published on transaction-fraud-validation.
type FraudVerdict struct {
	TransactionID string `json:"transaction_id"`
	TransferFields
	Scale  int32  `json:"scale"`
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func (m FraudVerdict) Validate() error {
	if m.TransactionID == "" {
		return codec.Invalid("transaction_id", "required")
	}
	if err := m.validate(); err != nil {
		return err
	}
	if m.Status != StatusApproved && m.Status != StatusRejected {
		return codec.Invalid("status", "must be approved or rejected")
	}
	return nil
}

// TransactionUpdate is the terminal status event consumed by the read model.
type TransactionUpdate struct {
	TransactionID   string     `json:"transaction_id"`
	Number          codec.Uint `json:"number"`
	DebitAccountID  codec.Uint `json:"debit_account_id"`
	CreditAccountID codec.Uint `json:"credit_account_id"`
	Amount          codec.Uint `json:"amount,omitempty"`
	Code            codec.Uint `json:"code,omitempty"`
	Ledger          codec.Uint `json:"ledger,omitempty"`
	Scale           int32      `json:"scale"`
	Status          Status     `json:"status"`
	Verdict         Status     `json:"verdict,omitempty"`
	UpdateDate      time.Time  `json:"update_date"`
	Reason          string     `json:"reason,omitempty"`
}

func (m TransactionUpdate) Validate() error {
	switch {
	case m.TransactionID == "":
		return codec.Invalid("transaction_id", "required")
	case m.Number == 0:
		return codec.Invalid("number", "must be positive")
	case !m.Status.Terminal():
		return codec.Invalid("status", "must be posted or voided, got "+string(m.Status))
	case m.Verdict != "" && m.Verdict != StatusApproved && m.Verdict != StatusRejected:
		return codec.Invalid("verdict", "must be approved or rejected")
	}
	return nil
}

func (m TransactionUpdate) Key() string { return m.Number.String() }

// AccountCreate asks the ledger to open an account.
type AccountCreate struct {
	AccountID string     `json:"account_id"`
	Number    codec.Uint `json:"number"`
	Ledger    codec.Uint `json:"ledger"`
	Operation codec.Uint `json:"operation"`
}

func (m AccountCreate) Validate() error {
	switch {
	case m.AccountID == "":
		return codec.Invalid("account_id", "required")
	case m.Number == 0:
		return codec.Invalid("number", "must be positive")
	case m.Ledger == 0 || m.Ledger > math.MaxUint32:
		return codec.Invalid("ledger", "must be in 1..4294967295")
	case m.Operation == 0 || m.Operation > math.MaxUint16:
		return codec.Invalid("operation", "must be in 1..65535")
	}
	return nil
}

func (m AccountCreate) Key() string { return m.Number.String() }

// AccountCreated reports the provisioning outcome.
type AccountCreated struct {
	AccountID  string          `json:"account_id"`
	Number     codec.Uint      `json:"number"`
	Ledger     codec.Uint      `json:"ledger"`
	Status     ProvisionStatus `json:"status"`
	Reason     string          `json:"reason,omitempty"`
	UpdateDate time.Time       `json:"update_date"`
}

func (m AccountCreated) Validate() error {
	switch {
	case m.AccountID == "":
		return codec.Invalid("account_id", "required")
	case m.Number == 0:
		return codec.Invalid("number", "must be positive")
	case m.Status != ProvisionCreated && m.Status != ProvisionDeclined:
		return codec.Invalid("status", "must be created or declined")
	}
	return nil
}
