package beacon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePayer records BuildAndPay calls and hands out sequential signatures.
type fakePayer struct {
	mu      sync.Mutex
	address string
	calls   []string // action ids, in order
	err     error
}

func (p *fakePayer) UserAddress() string { return p.address }

func (p *fakePayer) BuildAndPay(ctx context.Context, recipient string, amountSOL float64, actionID string) (PaymentProof, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return PaymentProof{}, p.err
	}
	p.calls = append(p.calls, actionID)
	return PaymentProof{
		Transaction: fmt.Sprintf("sig-%d", len(p.calls)),
		Amount:      amountSOL,
		Network:     "solana",
		Timestamp:   1,
	}, nil
}

func (p *fakePayer) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func paymentRequiredBody(recipient string, amount float64) string {
	return fmt.Sprintf(`{"error":"payment required","payment":{"recipientAddress":%q,"amount":%g,"currency":"SOL"}}`, recipient, amount)
}

// gateServer answers 402 until a valid-looking proof arrives, then 200.
func gateServer(t *testing.T, recipient string, amount float64) (*httptest.Server, *int) {
	t.Helper()
	calls := new(int)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		header := r.Header.Get(ProofHeader)
		if header == "" {
			w.WriteHeader(http.StatusPaymentRequired)
			fmt.Fprint(w, paymentRequiredBody(recipient, amount))
			return
		}
		var proof PaymentProof
		if err := json.Unmarshal([]byte(header), &proof); err != nil || proof.Transaction == "" {
			w.WriteHeader(http.StatusPaymentRequired)
			fmt.Fprint(w, paymentRequiredBody(recipient, amount))
			return
		}
		fmt.Fprint(w, `{"success":true,"id":"b1"}`)
	}))
	t.Cleanup(srv.Close)
	return srv, calls
}

func TestGatedClientPaysOn402(t *testing.T) {
	srv, calls := gateServer(t, "treasury", 0.01)
	payer := &fakePayer{address: "alice"}
	client := NewGatedClient(payer, nil)

	out, err := client.Do(context.Background(), srv.URL, map[string]string{"content": "hi"}, ActionBeacon)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"id":"b1"}`, string(out))

	// Exactly one unpaid attempt plus one paid retry, one payment.
	assert.Equal(t, 2, *calls)
	assert.Equal(t, 1, payer.callCount())
	require.Len(t, payer.calls, 1)
	assert.True(t, strings.HasPrefix(payer.calls[0], "beacon_"))
}

func TestGatedClientSkipsPaymentOn200(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"success":true}`)
	}))
	defer srv.Close()

	payer := &fakePayer{address: "alice"}
	client := NewGatedClient(payer, nil)

	_, err := client.Do(context.Background(), srv.URL, nil, ActionBeacon)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, payer.callCount())
}

func TestGatedClientReusesCachedProof(t *testing.T) {
	srv, calls := gateServer(t, "treasury", 0.01)
	payer := &fakePayer{address: "alice"}
	proofs := NewProofCache(0)
	client := NewGatedClient(payer, proofs)

	_, err := client.Do(context.Background(), srv.URL, nil, ActionBeacon)
	require.NoError(t, err)
	require.Equal(t, 1, payer.callCount())

	// Second call goes straight through with the cached proof: one HTTP
	// round trip, no new payment.
	before := *calls
	_, err = client.Do(context.Background(), srv.URL, nil, ActionBeacon)
	require.NoError(t, err)
	assert.Equal(t, 1, payer.callCount())
	assert.Equal(t, before+1, *calls)
}

func TestGatedClientCachedProofRejectedPaysOnce(t *testing.T) {
	// The server rejects the first (stale) proof but accepts any later one.
	seen := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(ProofHeader) != "" {
			seen++
			if seen == 1 {
				w.WriteHeader(http.StatusPaymentRequired)
				fmt.Fprint(w, paymentRequiredBody("treasury", 0.01))
				return
			}
			fmt.Fprint(w, `{"success":true}`)
			return
		}
		w.WriteHeader(http.StatusPaymentRequired)
		fmt.Fprint(w, paymentRequiredBody("treasury", 0.01))
	}))
	defer srv.Close()

	payer := &fakePayer{address: "alice"}
	proofs := NewProofCache(0)
	proofs.Put("alice", ActionBeacon, testProof("stale"))
	client := NewGatedClient(payer, proofs)

	out, err := client.Do(context.Background(), srv.URL, nil, ActionBeacon)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true}`, string(out))
	assert.Equal(t, 1, payer.callCount())
}

func TestGatedClientFreshProofRejectedIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		fmt.Fprint(w, paymentRequiredBody("treasury", 0.01))
	}))
	defer srv.Close()

	payer := &fakePayer{address: "alice"}
	proofs := NewProofCache(0)
	client := NewGatedClient(payer, proofs)

	_, err := client.Do(context.Background(), srv.URL, nil, ActionBeacon)
	require.Error(t, err)
	assert.True(t, IsPaymentCode(err, ErrCodePaymentVerificationFailed))
	// Paid exactly once. Never pay twice on the same call.
	assert.Equal(t, 1, payer.callCount())
	// The rejected proof must not linger for the next caller.
	_, ok := proofs.Get("alice", ActionBeacon)
	assert.False(t, ok)
}

func TestGatedClientWalletNotConnected(t *testing.T) {
	srv, _ := gateServer(t, "treasury", 0.01)
	client := NewGatedClient(nil, nil)

	_, err := client.Do(context.Background(), srv.URL, nil, ActionBeacon)
	require.Error(t, err)
	assert.True(t, IsPaymentCode(err, ErrCodeWalletNotConnected))
}

func TestGatedClientNon402NotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":"boom"}`)
	}))
	defer srv.Close()

	payer := &fakePayer{address: "alice"}
	client := NewGatedClient(payer, nil)

	_, err := client.Do(context.Background(), srv.URL, nil, ActionBeacon)
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusInternalServerError, reqErr.Status)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, payer.callCount())
}

func TestGatedClientPaymentFailureSurfaces(t *testing.T) {
	srv, _ := gateServer(t, "treasury", 0.01)
	payer := &fakePayer{
		address: "alice",
		err:     NewPaymentError(ErrCodeTransactionRejected, "user declined", nil),
	}
	client := NewGatedClient(payer, nil)

	_, err := client.Do(context.Background(), srv.URL, nil, ActionBeacon)
	assert.True(t, IsPaymentCode(err, ErrCodeTransactionRejected))
}

func TestGatedClientMalformed402(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		fmt.Fprint(w, `{"error":"payment required"}`)
	}))
	defer srv.Close()

	client := NewGatedClient(&fakePayer{address: "alice"}, nil)
	_, err := client.Do(context.Background(), srv.URL, nil, ActionBeacon)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no payment requirements")
}

func TestGatedClientSerializesSameAction(t *testing.T) {
	// Two concurrent calls for the same action: the first pays, the second
	// waits and rides the cached proof.
	srv, _ := gateServer(t, "treasury", 0.01)
	payer := &fakePayer{address: "alice"}
	client := NewGatedClient(payer, NewProofCache(0))

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = client.Do(context.Background(), srv.URL, nil, ActionBeacon)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, payer.callCount())
}

func TestKeyedLockContextCancel(t *testing.T) {
	l := newKeyedLock()
	release, err := l.acquire(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.acquire(ctx, "k")
	assert.True(t, errors.Is(err, context.Canceled))

	release()
	release2, err := l.acquire(context.Background(), "k")
	require.NoError(t, err)
	release2()
}
