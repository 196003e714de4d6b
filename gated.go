package beacon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"go.uber.org/zap"
)

// Payer is the payment capability the gated client drives when a server
// answers 402. payments.Builder implements it; tests supply fakes.
type Payer interface {
	// UserAddress returns the payer's wallet address, or "" when no wallet
	// is connected.
	UserAddress() string
	// BuildAndPay executes one on-chain transfer carrying the action id in
	// its memo and returns the confirmed proof.
	BuildAndPay(ctx context.Context, recipient string, amountSOL float64, actionID string) (PaymentProof, error)
}

// GatedClient drives the x402 payment-gated request protocol: send without
// proof, interpret a 402, pay, attach the proof, retry exactly once.
type GatedClient struct {
	httpClient *http.Client
	proofs     *ProofCache
	log        *zap.Logger

	payerMu sync.RWMutex
	payer   Payer

	inflight *keyedLock
}

// GatedOption configures a GatedClient.
type GatedOption func(*GatedClient)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) GatedOption {
	return func(c *GatedClient) { c.httpClient = hc }
}

// WithGatedLogger sets the logger. Defaults to a no-op logger.
func WithGatedLogger(log *zap.Logger) GatedOption {
	return func(c *GatedClient) { c.log = log }
}

// NewGatedClient creates a gated client. payer may be nil; calls that hit
// a 402 then fail with ErrCodeWalletNotConnected. proofs may be nil, in
// which case a cache with the default TTL is created.
func NewGatedClient(payer Payer, proofs *ProofCache, opts ...GatedOption) *GatedClient {
	c := &GatedClient{
		httpClient: http.DefaultClient,
		payer:      payer,
		proofs:     proofs,
		log:        zap.NewNop(),
		inflight:   newKeyedLock(),
	}
	if c.proofs == nil {
		c.proofs = NewProofCache(0)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetPayer swaps the payment capability; pass nil on wallet disconnect.
// In-flight calls keep the payer they started with.
func (c *GatedClient) SetPayer(p Payer) {
	c.payerMu.Lock()
	defer c.payerMu.Unlock()
	c.payer = p
}

func (c *GatedClient) currentPayer() Payer {
	c.payerMu.RLock()
	defer c.payerMu.RUnlock()
	return c.payer
}

// Do sends payload to endpoint under the gated protocol and returns the
// successful response body.
//
// Order matters: the proof cache is consulted first; otherwise an unpaid
// attempt precedes the paid retry. A 402 on a fresh proof is terminal
// (ErrCodePaymentVerificationFailed). A 402 on a cached proof invalidates
// the entry and forces exactly one fresh payment before giving up.
// Concurrent calls for the same (user, action) are serialized so the same
// logical action never pays twice in flight.
func (c *GatedClient) Do(ctx context.Context, endpoint string, payload interface{}, action ActionKey) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request payload: %w", err)
	}

	payer := c.currentPayer()
	user := ""
	if payer != nil {
		user = payer.UserAddress()
	}

	if user != "" {
		release, err := c.inflight.acquire(ctx, proofKey(user, action))
		if err != nil {
			return nil, err
		}
		defer release()

		if proof, ok := c.proofs.Get(user, action); ok {
			return c.sendWithCachedProof(ctx, endpoint, body, payer, action, proof)
		}
	}

	// Unpaid attempt.
	resp, err := c.post(ctx, endpoint, body, nil)
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusPaymentRequired {
		return finish(resp)
	}

	spec, err := parsePaymentSpec(resp.body)
	if err != nil {
		return nil, err
	}
	return c.payAndRetry(ctx, endpoint, body, payer, action, spec)
}

// sendWithCachedProof reuses a cached proof. If the server rejects it with
// another 402 (consumed or expired server-side), the entry is dropped and
// one fresh payment is attempted before failing.
func (c *GatedClient) sendWithCachedProof(ctx context.Context, endpoint string, body []byte, payer Payer, action ActionKey, proof PaymentProof) (json.RawMessage, error) {
	resp, err := c.post(ctx, endpoint, body, &proof)
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusPaymentRequired {
		return finish(resp)
	}

	c.log.Debug("cached payment proof rejected, paying fresh",
		zap.String("action", string(action)))
	c.proofs.Delete(payer.UserAddress(), action)

	spec, err := parsePaymentSpec(resp.body)
	if err != nil {
		return nil, err
	}
	return c.payAndRetry(ctx, endpoint, body, payer, action, spec)
}

// payAndRetry executes the payment declared by spec, caches the proof, and
// re-sends the identical body exactly once with the proof attached.
func (c *GatedClient) payAndRetry(ctx context.Context, endpoint string, body []byte, payer Payer, action ActionKey, spec PaymentSpec) (json.RawMessage, error) {
	if payer == nil || payer.UserAddress() == "" {
		return nil, NewPaymentError(ErrCodeWalletNotConnected, "wallet not connected", nil)
	}
	user := payer.UserAddress()

	actionID := NewActionID(string(action))
	proof, err := payer.BuildAndPay(ctx, spec.RecipientAddress, spec.Amount, actionID)
	if err != nil {
		return nil, err
	}
	c.proofs.Put(user, action, proof)

	resp, err := c.post(ctx, endpoint, body, &proof)
	if err != nil {
		return nil, err
	}
	if resp.status == http.StatusPaymentRequired {
		// The server refused a proof we just paid for. Never pay again here;
		// surface it so the UI can advise checking the transaction.
		c.proofs.Delete(user, action)
		return nil, NewPaymentError(ErrCodePaymentVerificationFailed,
			"server rejected payment proof", map[string]interface{}{
				"transaction": proof.Transaction,
				"body":        string(resp.body),
			})
	}
	return finish(resp)
}

type gatedResponse struct {
	status int
	body   []byte
}

func (c *GatedClient) post(ctx context.Context, endpoint string, body []byte, proof *PaymentProof) (*gatedResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if proof != nil {
		encoded, err := json.Marshal(proof)
		if err != nil {
			return nil, fmt.Errorf("encode payment proof: %w", err)
		}
		req.Header.Set(ProofHeader, string(encoded))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &gatedResponse{status: resp.StatusCode, body: respBody}, nil
}

func finish(resp *gatedResponse) (json.RawMessage, error) {
	if resp.status >= 200 && resp.status < 300 {
		return json.RawMessage(resp.body), nil
	}
	return nil, &RequestError{Status: resp.status, Body: resp.body}
}

func parsePaymentSpec(body []byte) (PaymentSpec, error) {
	var required paymentRequired
	if err := json.Unmarshal(body, &required); err != nil {
		return PaymentSpec{}, fmt.Errorf("parse payment requirements: %w", err)
	}
	if required.Payment.RecipientAddress == "" {
		return PaymentSpec{}, fmt.Errorf("no payment requirements found in 402 response")
	}
	return required.Payment, nil
}

// keyedLock serializes work per key. A second acquirer for a key waits for
// the holder's release, then competes again.
type keyedLock struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func newKeyedLock() *keyedLock {
	return &keyedLock{held: make(map[string]chan struct{})}
}

func (l *keyedLock) acquire(ctx context.Context, key string) (func(), error) {
	for {
		l.mu.Lock()
		wait, busy := l.held[key]
		if !busy {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()
			return func() {
				l.mu.Lock()
				delete(l.held, key)
				l.mu.Unlock()
				close(done)
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
