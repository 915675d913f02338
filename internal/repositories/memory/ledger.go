package memory

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/skill-market/backend/internal/models"
)

var ErrUnknownTransfer = errors.New("memory ledger: unknown transfer")

// Address derives an in-memory ledger address from a public key. Pass it to
// custody.NewWallets so wallets created there can sign for this ledger.
func Address(pub ed25519.PublicKey) (string, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", fmt.Errorf("memory ledger: bad public key length %d", len(pub))
	}
	return "mem:" + hex.EncodeToString(pub), nil
}

// Ledger moves balances between addresses on submit. Failure switches
// simulate an unreachable or unconfirming network.
//
// Like a TON wallet, a submission whose sender cannot cover Amount plus Fee
// still lands as a transaction, but it moves no value and Verify does not
// confirm it.
type Ledger struct {
	mu        sync.Mutex
	balances  map[string]decimal.Decimal
	transfers map[string]landed
	seq       int

	Fee         decimal.Decimal
	BalanceErr  error
	SubmitErr   error
	VerifyErr   error
	Unconfirmed bool
}

type landed struct {
	transfer models.Transfer
	sent     bool
}

func NewLedger() *Ledger {
	return &Ledger{
		balances:  make(map[string]decimal.Decimal),
		transfers: make(map[string]landed),
	}
}

// Fund credits an address.
func (l *Ledger) Fund(addr string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[addr] = l.balances[addr].Add(amount)
}

func (l *Ledger) Balance(addr string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[addr]
}

// Submitted reports how many transfers reached the ledger.
func (l *Ledger) Submitted() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.transfers)
}

func (l *Ledger) GetBalance(ctx context.Context, wallet string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.BalanceErr != nil {
		return decimal.Zero, l.BalanceErr
	}
	return l.balances[wallet], nil
}

func (l *Ledger) BuildTransfer(_ context.Context, from, to string, amount decimal.Decimal) (*models.Transfer, error) {
	if from == "" || to == "" {
		return nil, errors.New("memory ledger: empty address")
	}
	if !amount.IsPositive() {
		return nil, errors.New("memory ledger: amount must be positive")
	}
	return &models.Transfer{From: from, To: to, Amount: amount}, nil
}

func (l *Ledger) SignAndSubmit(ctx context.Context, tr *models.Transfer, key ed25519.PrivateKey) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	signer, err := Address(key.Public().(ed25519.PublicKey))
	if err != nil {
		return "", err
	}
	if signer != tr.From {
		return "", errors.New("memory ledger: key does not control source wallet")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.SubmitErr != nil {
		return "", l.SubmitErr
	}

	balance := l.balances[tr.From]
	sent := !balance.LessThan(tr.Amount.Add(l.Fee))
	if sent {
		l.balances[tr.From] = balance.Sub(tr.Amount).Sub(l.Fee)
		l.balances[tr.To] = l.balances[tr.To].Add(tr.Amount)
	} else {
		l.balances[tr.From] = decimal.Max(decimal.Zero, balance.Sub(l.Fee))
	}

	l.seq++
	sig := fmt.Sprintf("memtx:%d", l.seq)
	l.transfers[sig] = landed{transfer: *tr, sent: sent}
	return sig, nil
}

func (l *Ledger) Verify(ctx context.Context, signature string) (models.TransferStatus, error) {
	if err := ctx.Err(); err != nil {
		return models.TransferStatus{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.VerifyErr != nil {
		return models.TransferStatus{}, l.VerifyErr
	}
	tx, ok := l.transfers[signature]
	if !ok {
		return models.TransferStatus{Error: ErrUnknownTransfer.Error()}, nil
	}
	if !tx.sent {
		return models.TransferStatus{Error: "transaction sent no payment"}, nil
	}
	if l.Unconfirmed {
		return models.TransferStatus{Error: "not confirmed"}, nil
	}
	return models.TransferStatus{Confirmed: true, Slot: uint64(l.seq)}, nil
}

func (l *Ledger) FindTransfer(ctx context.Context, tr *models.Transfer) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.VerifyErr != nil {
		return "", false, l.VerifyErr
	}
	for sig, tx := range l.transfers {
		t := tx.transfer
		if tx.sent && t.From == tr.From && t.To == tr.To && t.Amount.Equal(tr.Amount) && t.Comment == tr.Comment {
			return sig, true, nil
		}
	}
	return "", false, nil
}
