package events

// Status is the lifecycle state of a transfer.
type Status string

const (
	StatusRequested Status = "requested"
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusPosted    Status = "posted"
	StatusVoided    Status = "voided"
)

// Rank orders statuses along the saga. Unknown statuses rank -1.
func (s Status) Rank() int {
	switch s {
	case StatusRequested:
		return 0
	case StatusPending:
		return 1
	case StatusApproved, StatusRejected:
		return 2
	case StatusPosted, StatusVoided:
		return 3
	}
	return -1
}

func (s Status) Valid() bool { return s.Rank() >= 0 }

func (s Status) Terminal() bool { return s == StatusPosted || s == StatusVoided }

// CanAdvance reports whether a record in state from may move to state to.
// Transitions only move forward and terminal states are write-once.
func CanAdvance(from, to Status) bool {
	if !to.Valid() {
		return false
	}
	if !from.Valid() {
		return true
	}
	return to.Rank() > from.Rank()
}

// AccountStatus is the read-model state of an account.
type AccountStatus string

const (
	AccountPending  AccountStatus = "pending"
	AccountEnabled  AccountStatus = "enabled"
	AccountDisabled AccountStatus = "disabled"
	AccountBlocked  AccountStatus = "blocked"
)

// ProvisionStatus is the outcome carried by account-created.
type ProvisionStatus string

const (
	ProvisionCreated  ProvisionStatus = "created"
	ProvisionDeclined ProvisionStatus = "declined"
)

// AccountStatus maps a provisioning outcome onto the read model.
func (p ProvisionStatus) AccountStatus() AccountStatus {
	if p == ProvisionCreated {
		return AccountEnabled
	}
	return AccountDisabled
}
