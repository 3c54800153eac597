package main

import (
	"context"
	"encoding/json"
	"time"

	"ledgerflow/internal/broker"
	"ledgerflow/internal/codec"
	"ledgerflow/internal/events"
	"ledgerflow/internal/rpc"
	"ledgerflow/source/kafka"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type rpcFlags struct {
	kafkaPath string
	timeout   time.Duration
}

func (f *rpcFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.kafkaPath, "kafka", "", "kafka config file (env LEDGERFLOW_KAFKA__* also applies)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 10*time.Second, "time to wait for the reply")
}

// call sends one request over r and prints the reply as JSON.
func call[Req any, Res codec.Validator](cmd *cobra.Command, f rpcFlags, r events.RPC, req Req) error {
	kc, err := kafka.LoadConfig(f.kafkaPath)
	if err != nil {
		return err
	}
	c, err := rpc.New[Req, Res](broker.New(kc), rpc.Config{RPC: r, ClientName: "ledgerflow-cli-" + uuid.NewString()[:8], Timeout: f.timeout})
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), f.timeout+time.Second)
	defer cancel()
	res, err := c.Request(ctx, req)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func transferCmd() *cobra.Command {
	var (
		f   rpcFlags
		req events.TransferRequest
	)
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Submit a transfer over the transactions-create rpc",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := req.Validate(); err != nil {
				return err
			}
			return call[events.TransferRequest, events.TransactionCreated](cmd, f, events.RPCTransactionsCreate, req)
		},
	}
	f.bind(cmd)
	uintFlag(cmd, &req.Number, "number", "transfer number, unique per transfer")
	uintFlag(cmd, &req.DebitAccountID, "debit", "debit account number")
	uintFlag(cmd, &req.CreditAccountID, "credit", "credit account number")
	uintFlag(cmd, &req.Amount, "amount", "amount in minor units")
	uintFlag(cmd, &req.Code, "code", "transfer code")
	uintFlag(cmd, &req.Ledger, "ledger", "ledger id")
	return cmd
}

func accountCmd() *cobra.Command {
	var (
		f   rpcFlags
		req events.AccountCreate
	)
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Open a ledger account over the accounts-create rpc",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := req.Validate(); err != nil {
				return err
			}
			return call[events.AccountCreate, events.AccountCreated](cmd, f, events.RPCAccountsCreate, req)
		},
	}
	f.bind(cmd)
	cmd.Flags().StringVar(&req.AccountID, "id", "", "external account id")
	uintFlag(cmd, &req.Number, "number", "account number")
	uintFlag(cmd, &req.Ledger, "ledger", "ledger id")
	uintFlag(cmd, &req.Operation, "operation", "account code")
	return cmd
}

func uintFlag(cmd *cobra.Command, dst *codec.Uint, name, usage string) {
	cmd.Flags().Uint64Var((*uint64)(dst), name, 0, usage)
}
