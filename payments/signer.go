package payments

import (
	"context"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
)

// SignTransactionFunc is the callback used to sign payment transactions.
type SignTransactionFunc func(ctx context.Context, tx *solana.Transaction) error

// WalletSigner is the opaque signing capability a payment builder drives.
// Browser-style wallet adapters and custodial platform wallets both fit.
type WalletSigner interface {
	// Address returns the payer's public key.
	Address() solana.PublicKey
	// SignTransaction signs the transaction in place.
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
}

// CallbackSigner implements WalletSigner with an external signing callback,
// e.g. a wallet extension bridge.
type CallbackSigner struct {
	publicKey solana.PublicKey
	sign      SignTransactionFunc
}

// NewCallbackSigner creates a signer from a public key and callback.
func NewCallbackSigner(publicKey solana.PublicKey, sign SignTransactionFunc) (*CallbackSigner, error) {
	if publicKey.IsZero() {
		return nil, fmt.Errorf("public key is required")
	}
	if sign == nil {
		return nil, fmt.Errorf("sign callback is required")
	}
	return &CallbackSigner{publicKey: publicKey, sign: sign}, nil
}

// Address returns the signer's public key.
func (s *CallbackSigner) Address() solana.PublicKey {
	return s.publicKey
}

// SignTransaction signs the transaction via the callback.
func (s *CallbackSigner) SignTransaction(ctx context.Context, tx *solana.Transaction) error {
	return s.sign(ctx, tx)
}

// LocalSigner signs with an in-process private key. Used for the custodial
// platform wallet, which pays without per-transaction user approval.
type LocalSigner struct {
	key solana.PrivateKey
}

// NewLocalSigner creates a signer from a base58-encoded private key.
func NewLocalSigner(privateKeyBase58 string) (*LocalSigner, error) {
	key, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &LocalSigner{key: key}, nil
}

// NewLocalSignerFromKey creates a signer from an existing private key.
func NewLocalSignerFromKey(key solana.PrivateKey) *LocalSigner {
	return &LocalSigner{key: key}
}

// Address returns the signer's public key.
func (s *LocalSigner) Address() solana.PublicKey {
	return s.key.PublicKey()
}

// SignTransaction signs the transaction message with Ed25519 and places
// the signature at the payer's account index.
func (s *LocalSigner) SignTransaction(_ context.Context, tx *solana.Transaction) error {
	messageBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	signature, err := s.key.Sign(messageBytes)
	if err != nil {
		return fmt.Errorf("failed to sign: %w", err)
	}

	accountIndex, err := tx.GetAccountIndex(s.key.PublicKey())
	if err != nil {
		return fmt.Errorf("failed to get account index: %w", err)
	}

	if len(tx.Signatures) <= int(accountIndex) {
		newSignatures := make([]solana.Signature, accountIndex+1)
		copy(newSignatures, tx.Signatures)
		tx.Signatures = newSignatures
	}
	tx.Signatures[accountIndex] = signature

	return nil
}
