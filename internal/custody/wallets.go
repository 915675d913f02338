package custody

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
)

// AddressFunc derives the ledger address of a public key.
type AddressFunc func(pub ed25519.PublicKey) (string, error)

// Wallets creates and unlocks custodial ed25519 wallets.
type Wallets struct {
	sealer  *Sealer
	address AddressFunc
}

func NewWallets(sealer *Sealer, address AddressFunc) *Wallets {
	return &Wallets{sealer: sealer, address: address}
}

// Create generates a key pair and returns the wallet address together with
// the sealed seed. The plaintext seed never leaves this function.
func (w *Wallets) Create() (address string, sealedKey string, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate wallet key: %w", err)
	}
	defer Zero(priv)

	address, err = w.address(pub)
	if err != nil {
		return "", "", fmt.Errorf("derive wallet address: %w", err)
	}

	sealedKey, err = w.sealer.Seal(priv.Seed())
	if err != nil {
		return "", "", fmt.Errorf("seal wallet key: %w", err)
	}
	return address, sealedKey, nil
}

// Unlock opens a sealed seed into a private key. Callers must Zero the key
// as soon as signing is done.
func (w *Wallets) Unlock(sealedKey string) (ed25519.PrivateKey, error) {
	seed, err := w.sealer.Open(sealedKey)
	if err != nil {
		return nil, fmt.Errorf("open wallet key: %w", err)
	}
	defer Zero(seed)

	if len(seed) != ed25519.SeedSize {
		return nil, ErrMalformed
	}
	return ed25519.NewKeyFromSeed(seed), nil
}
