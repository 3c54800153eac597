package tigerbeetle

import (
	"testing"

	"ledgerflow/internal/ledger"

	"github.com/tigerbeetle/tigerbeetle-go/pkg/types"
)

func TestResultMapping(t *testing.T) {
	cases := []struct {
		got  ledger.ErrorKind
		want ledger.ErrorKind
	}{
		{accountKind(types.AccountExists), ledger.KindExists},
		{transferKind(types.TransferExists), ledger.KindExists},
		{transferKind(types.TransferPendingTransferAlreadyPosted), ledger.KindAlreadyPosted},
		{transferKind(types.TransferPendingTransferAlreadyVoided), ledger.KindAlreadyVoided},
		{transferKind(types.TransferPendingTransferExpired), ledger.KindPendingExpired},
		{transferKind(types.TransferDebitAccountNotFound), ledger.KindAccountNotFound},
		{byName("TransferExistsWithDifferentFlags"), ledger.KindExistsWithDifferentFields},
		{byName("TransferAccountsMustHaveTheSameLedger"), ledger.KindLedgerMismatch},
		{byName("TransferIDMustNotBeZero"), ledger.KindInvalid},
		{byName("SomethingNew"), ledger.KindOther},
	}
	for i, c := range cases {
		if c.got != c.want {
			t.Fatalf("case %d: got %s want %s", i, c.got, c.want)
		}
	}
}

func TestFinalizations_VoidCarriesZeroAmount(t *testing.T) {
	out := finalizations([]ledger.Finalize{{PendingID: 7}}, types.TransferFlags{VoidPendingTransfer: true})
	if out[0].ID != types.ToUint128(ledger.FinalizeID(7)) || out[0].PendingID != types.ToUint128(7) {
		t.Fatalf("unexpected finalize transfer %+v", out[0])
	}
	if out[0].Amount != (types.Uint128{}) {
		t.Fatalf("void amount must be zero, got %v", out[0].Amount)
	}
}

func TestFinalizations_PostAmount(t *testing.T) {
	out := finalizations([]ledger.Finalize{{PendingID: 7, Amount: 500}, {PendingID: 8}}, types.TransferFlags{PostPendingTransfer: true})
	if out[0].Amount != types.ToUint128(500) {
		t.Fatalf("post amount: got %v", out[0].Amount)
	}
	if out[1].Amount[0] != 0xff || out[1].Amount[15] != 0xff {
		t.Fatal("zero post amount must post the full pending amount")
	}
}
