package beacon

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProofHeader is the request header carrying the JSON-serialized payment
// proof on the retried call.
const ProofHeader = "x-402-proof"

// PaymentProof is the client-held evidence that a required payment landed
// on chain. The wire field names match what the gated endpoints consume in
// the x-402-proof header.
type PaymentProof struct {
	// Transaction is the ledger transaction signature.
	Transaction string `json:"transaction"`
	// Amount is the amount paid, in SOL.
	Amount float64 `json:"amount"`
	// Network identifies the target cluster (e.g. "solana").
	Network string `json:"network"`
	// Nonce is a random value stamped per proof to avoid trivial replay.
	Nonce string `json:"nonce,omitempty"`
	// Timestamp is the client-clock creation time in unix milliseconds.
	// Used only for local cache expiry, never as a security control.
	Timestamp int64 `json:"timestamp"`
}

// PaymentSpec is the server-declared payment requirement returned in the
// body of a 402 response, under the "payment" key. Read-only from the
// client's perspective.
type PaymentSpec struct {
	RecipientAddress string  `json:"recipientAddress"`
	Amount           float64 `json:"amount"`
	Currency         string  `json:"currency"`
	Description      string  `json:"description,omitempty"`
	FacilitatorURL   string  `json:"facilitatorUrl,omitempty"`
}

// paymentRequired is the 402 response body shape.
type paymentRequired struct {
	Payment PaymentSpec `json:"payment"`
}

// ActionKey is the logical action/amount bucket a payment proof is cached
// under, composed with the user address.
type ActionKey string

// ActionBeacon is the action key for beacon creation.
const ActionBeacon ActionKey = "beacon"

// TipAction returns the action key for a tip of the given amount to the
// given recipient. Tips to different recipients or of different amounts
// never share a cached proof.
func TipAction(recipient string, amountSOL float64) ActionKey {
	return ActionKey("tip_" + recipient + "_" + formatAmount(amountSOL))
}

// DepositAction returns the action key for a platform-wallet deposit of
// the given amount.
func DepositAction(amountSOL float64) ActionKey {
	return ActionKey("deposit_" + formatAmount(amountSOL))
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// NewActionID generates a unique per-attempt action identifier. It is
// embedded in the on-chain memo as "x402:<id>" and binds the payment to
// one logical action; two attempts never collide on the same memo.
func NewActionID(kind string) string {
	return fmt.Sprintf("%s_%d_%s", kind, time.Now().UnixMilli(), randomSuffix())
}

// NewNonce returns a random nonce for a payment proof.
func NewNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
}

// Config carries the externally supplied parameters the client needs.
// All of these come from the embedding application's environment; nothing
// is read globally.
type Config struct {
	// APIBaseURL is the base URL of the beacon API, e.g. "https://app.example.com".
	APIBaseURL string
	// FeedURL is the realtime feed endpoint (SSE or WebSocket).
	FeedURL string
	// TreasuryAddress receives platform fees. Informational on the client;
	// the authoritative recipient arrives in each 402 PaymentSpec.
	TreasuryAddress string
	// BeaconPriceSOL is the expected price of a beacon creation.
	BeaconPriceSOL float64
	// Network identifies the ledger cluster, e.g. "solana".
	Network string
	// ProofTTL bounds reuse of a cached payment proof. Defaults to 5 minutes.
	ProofTTL time.Duration
}

// DefaultProofTTL is the payment proof reuse window.
const DefaultProofTTL = 5 * time.Minute

// DefaultBeaconPriceSOL is the standard beacon creation fee.
const DefaultBeaconPriceSOL = 0.01
