// Package custody creates and restores the per-user agent wallets. A wallet is persisted
// as an opaque credential blob that only this package knows how to read.
package custody

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	credentialVersion = 1
	sealedPrefix      = "sb1:"
	nonceSize         = 24
)

var (
	// ErrCorruptCredential is returned when a blob cannot be decoded or does not match its address.
	ErrCorruptCredential = errors.New("corrupt wallet credential")
	// ErrSealed is returned when a sealed blob is restored without an encryption key.
	ErrSealed = errors.New("wallet credential is sealed and no encryption key is configured")
)

// Credential is the structured wallet state that restores a signing identity.
type Credential struct {
	Version    int    `json:"version"`
	Address    string `json:"address"`
	PrivateKey string `json:"private_key"`
}

// Wallet is a restored signing identity.
type Wallet interface {
	// Address is the wallet's on-chain address.
	Address() string
	// ExportCredential returns the state needed to restore this wallet.
	ExportCredential() (Credential, error)
}

// Provider creates wallets and converts them to and from credential blobs.
type Provider interface {
	Create(ctx context.Context) (Wallet, error)
	Restore(ctx context.Context, blob []byte) (Wallet, error)
	Export(w Wallet) ([]byte, error)
}

// LocalProvider keeps secp256k1 keys in the credential blob itself, sealed with
// secretbox when an encryption key is configured.
type LocalProvider struct {
	key    *[32]byte
	logger *zap.Logger
}

// NewLocalProvider creates a provider. encryptionKey is a hex encoded 32 byte key; when
// empty, blobs are stored in plaintext.
func NewLocalProvider(encryptionKey string, logger *zap.Logger) (*LocalProvider, error) {
	p := &LocalProvider{logger: logger.Named("custody")}
	if encryptionKey == "" {
		p.logger.Warn("No custody encryption key configured, agent wallet credentials are stored in plaintext")
		return p, nil
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(encryptionKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode custody encryption key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("custody encryption key must be 32 bytes, got %d", len(raw))
	}
	p.key = new([32]byte)
	copy(p.key[:], raw)
	return p, nil
}

// Create generates a new wallet.
func (p *LocalProvider) Create(_ context.Context) (Wallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate wallet key: %w", err)
	}
	w := newLocalWallet(key)
	p.logger.Info("Created agent wallet", zap.String("address", w.Address()))
	return w, nil
}

// Restore rebuilds a wallet from a blob produced by Export.
func (p *LocalProvider) Restore(_ context.Context, blob []byte) (Wallet, error) {
	plain, err := p.open(blob)
	if err != nil {
		return nil, err
	}

	var cred Credential
	if err := json.Unmarshal(plain, &cred); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCredential, err)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cred.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCredential, err)
	}

	w := newLocalWallet(key)
	if !strings.EqualFold(w.Address(), cred.Address) {
		return nil, fmt.Errorf("%w: key derives %s, credential says %s", ErrCorruptCredential, w.Address(), cred.Address)
	}
	return w, nil
}

// Export serializes a wallet into a blob, sealing it if a key is configured.
func (p *LocalProvider) Export(w Wallet) ([]byte, error) {
	cred, err := w.ExportCredential()
	if err != nil {
		return nil, fmt.Errorf("export credential: %w", err)
	}
	plain, err := json.Marshal(cred)
	if err != nil {
		return nil, fmt.Errorf("encode credential: %w", err)
	}
	if p.key == nil {
		return plain, nil
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], plain, &nonce, p.key)
	return []byte(sealedPrefix + base64.StdEncoding.EncodeToString(sealed)), nil
}

func (p *LocalProvider) open(blob []byte) ([]byte, error) {
	s := string(blob)
	if !strings.HasPrefix(s, sealedPrefix) {
		return blob, nil
	}
	if p.key == nil {
		return nil, ErrSealed
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, sealedPrefix))
	if err != nil || len(raw) < nonceSize {
		return nil, fmt.Errorf("%w: bad envelope", ErrCorruptCredential)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, p.key)
	if !ok {
		return nil, fmt.Errorf("%w: authentication failed", ErrCorruptCredential)
	}
	return plain, nil
}

type localWallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func newLocalWallet(key *ecdsa.PrivateKey) *localWallet {
	return &localWallet{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

func (w *localWallet) Address() string {
	return w.address.Hex()
}

func (w *localWallet) ExportCredential() (Credential, error) {
	return Credential{
		Version:    credentialVersion,
		Address:    w.address.Hex(),
		PrivateKey: hex.EncodeToString(crypto.FromECDSA(w.key)),
	}, nil
}
