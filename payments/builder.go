// Package payments constructs, signs and confirms the on-chain transfer
// that backs an x402 payment proof. One call to BuildAndPay executes one
// irreversible transfer; caching proofs for reuse is the caller's job.
package payments

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"

	beacon "github.com/beaconlabs/beacon-go"
)

// MemoPrefix tags every payment memo; the server looks the action id up
// on chain under this prefix during verification.
const MemoPrefix = "x402:"

// Ledger is the slice of the Solana RPC surface the builder needs.
// *rpc.Client satisfies it; tests use fakes.
type Ledger interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*rpc.SimulateTransactionResponse, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

// Builder creates payment proofs by transferring SOL to a recipient with
// an identifying memo attached.
type Builder struct {
	ledger  Ledger
	signer  WalletSigner
	network string

	simulate       bool
	confirmTimeout time.Duration
	pollInterval   time.Duration
	now            func() time.Time
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithSimulation toggles the pre-flight dry run. On by default.
func WithSimulation(enabled bool) BuilderOption {
	return func(b *Builder) { b.simulate = enabled }
}

// WithConfirmTimeout bounds how long BuildAndPay waits for ledger
// confirmation before reporting ErrCodeConfirmationTimeout. Default 60s.
func WithConfirmTimeout(d time.Duration) BuilderOption {
	return func(b *Builder) { b.confirmTimeout = d }
}

// WithPollInterval sets the confirmation polling cadence. Default 2s.
func WithPollInterval(d time.Duration) BuilderOption {
	return func(b *Builder) { b.pollInterval = d }
}

// NewBuilder creates a payment builder. signer may be nil, in which case
// every BuildAndPay fails with ErrCodeWalletNotConnected.
func NewBuilder(ledger Ledger, signer WalletSigner, network string, opts ...BuilderOption) *Builder {
	b := &Builder{
		ledger:         ledger,
		signer:         signer,
		network:        network,
		simulate:       true,
		confirmTimeout: 60 * time.Second,
		pollInterval:   2 * time.Second,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// UserAddress returns the payer's wallet address, or "" when no signer is
// attached.
func (b *Builder) UserAddress() string {
	if b.signer == nil {
		return ""
	}
	return b.signer.Address().String()
}

// BuildAndPay transfers amountSOL to recipient with the memo
// "x402:<actionID>", waits for confirmation, and returns the proof.
// The amount is floor-rounded to lamports. actionID must be unique per
// attempt; beacon.NewActionID stamps one.
func (b *Builder) BuildAndPay(ctx context.Context, recipient string, amountSOL float64, actionID string) (beacon.PaymentProof, error) {
	if b.signer == nil {
		return beacon.PaymentProof{}, beacon.NewPaymentError(
			beacon.ErrCodeWalletNotConnected, "wallet not connected", nil)
	}
	if amountSOL <= 0 {
		return beacon.PaymentProof{}, fmt.Errorf("payment amount must be positive, got %v", amountSOL)
	}
	if actionID == "" {
		return beacon.PaymentProof{}, fmt.Errorf("action id is required")
	}

	recipientKey, err := solana.PublicKeyFromBase58(recipient)
	if err != nil {
		return beacon.PaymentProof{}, fmt.Errorf("invalid recipient address: %w", err)
	}
	payer := b.signer.Address()
	lamports := uint64(math.Floor(amountSOL * float64(solana.LAMPORTS_PER_SOL)))

	latest, err := b.ledger.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return beacon.PaymentProof{}, beacon.NewPaymentError(
			beacon.ErrCodeSubmissionFailed, "failed to fetch blockhash",
			map[string]interface{}{"error": err.Error()})
	}

	transferIx := system.NewTransferInstruction(lamports, payer, recipientKey).Build()
	memoIx := solana.NewInstruction(
		solana.MemoProgramID,
		solana.AccountMetaSlice{solana.Meta(payer).SIGNER()},
		[]byte(MemoPrefix+actionID),
	)

	tx, err := solana.NewTransactionBuilder().
		AddInstruction(transferIx).
		AddInstruction(memoIx).
		SetRecentBlockHash(latest.Value.Blockhash).
		SetFeePayer(payer).
		Build()
	if err != nil {
		return beacon.PaymentProof{}, fmt.Errorf("failed to build transaction: %w", err)
	}

	if err := b.signer.SignTransaction(ctx, tx); err != nil {
		return beacon.PaymentProof{}, beacon.NewPaymentError(
			beacon.ErrCodeTransactionRejected, "wallet declined to sign",
			map[string]interface{}{"error": err.Error()})
	}

	if b.simulate {
		sim, err := b.ledger.SimulateTransaction(ctx, tx)
		if err != nil {
			return beacon.PaymentProof{}, beacon.NewPaymentError(
				beacon.ErrCodeSimulationFailed, "transaction simulation failed",
				map[string]interface{}{"error": err.Error()})
		}
		if sim.Value != nil && sim.Value.Err != nil {
			return beacon.PaymentProof{}, beacon.NewPaymentError(
				beacon.ErrCodeSimulationFailed, "transaction simulation reported an error",
				map[string]interface{}{"ledgerError": sim.Value.Err, "logs": sim.Value.Logs})
		}
	}

	sig, err := b.ledger.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return beacon.PaymentProof{}, beacon.NewPaymentError(
			beacon.ErrCodeSubmissionFailed, "failed to broadcast transaction",
			map[string]interface{}{"error": err.Error()})
	}

	if err := b.awaitConfirmation(ctx, sig); err != nil {
		return beacon.PaymentProof{}, err
	}

	return beacon.PaymentProof{
		Transaction: sig.String(),
		Amount:      amountSOL,
		Network:     b.network,
		Nonce:       beacon.NewNonce(),
		Timestamp:   b.now().UnixMilli(),
	}, nil
}

// awaitConfirmation polls signature statuses until the transaction reaches
// confirmed commitment or the timeout elapses. A timeout is ambiguous: the
// payment may still land, so it is reported distinctly.
func (b *Builder) awaitConfirmation(ctx context.Context, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, b.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		statuses, err := b.ledger.GetSignatureStatuses(ctx, false, sig)
		if err == nil && statuses != nil && len(statuses.Value) > 0 && statuses.Value[0] != nil {
			status := statuses.Value[0]
			if status.Err != nil {
				return beacon.NewPaymentError(
					beacon.ErrCodeSubmissionFailed, "transaction failed on chain",
					map[string]interface{}{"ledgerError": status.Err, "transaction": sig.String()})
			}
			switch status.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return nil
			}
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return ctx.Err()
			}
			return beacon.NewPaymentError(
				beacon.ErrCodeConfirmationTimeout, "transaction not confirmed in time",
				map[string]interface{}{"transaction": sig.String()})
		case <-ticker.C:
		}
	}
}
