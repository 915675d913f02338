package ton

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/ton/wallet"
	"go.uber.org/zap"

	"github.com/skill-market/backend/internal/models"
)

const (
	// TON amounts have nine decimal places (nanotons).
	nanoDecimals = 9
	// how many of a wallet's latest transactions FindTransfer inspects
	transferSearchDepth = 50
)

var (
	ErrInvalidAddress = errors.New("invalid ledger address")
	ErrInvalidTxID    = errors.New("invalid transaction id")
	ErrLedgerOpen     = errors.New("ledger temporarily unavailable")
)

// WalletVersion is the contract every custodial wallet is deployed as.
var WalletVersion = wallet.V4R2

// AddressFromPublicKey derives the user-friendly address of a custodial wallet.
func AddressFromPublicKey(pub ed25519.PublicKey) (string, error) {
	addr, err := wallet.AddressFromPubKey(pub, WalletVersion, wallet.DefaultSubwallet)
	if err != nil {
		return "", err
	}
	return addr.String(), nil
}

type ConnectOptions struct {
	Network        string // mainnet/testnet
	LiteServerHost string
	LiteServerPort int
	LiteServerKey  string
}

// Connect opens a lite client pool. With an explicit lite server it connects
// there, otherwise it discovers servers from the global config of Network.
func Connect(ctx context.Context, opts ConnectOptions, log *zap.Logger) (ton.APIClientWrapped, error) {
	client := liteclient.NewConnectionPool()

	if opts.LiteServerHost != "" && opts.LiteServerKey != "" {
		addr := fmt.Sprintf("%s:%d", opts.LiteServerHost, opts.LiteServerPort)
		log.Info("connecting to lite server", zap.String("addr", addr))
		if err := client.AddConnection(ctx, addr, opts.LiteServerKey); err != nil {
			return nil, fmt.Errorf("connect to lite server %s: %w", addr, err)
		}
	} else {
		configURL := "https://ton.org/testnet-global.config.json"
		if strings.ToLower(opts.Network) == "mainnet" {
			configURL = "https://ton.org/global.config.json"
		}
		log.Info("connecting via global config", zap.String("url", configURL), zap.String("network", opts.Network))
		if err := client.AddConnectionsFromConfigUrl(ctx, configURL); err != nil {
			return nil, fmt.Errorf("connect via config %s: %w", configURL, err)
		}
	}

	proofPolicy := ton.ProofCheckPolicyFast
	if strings.ToLower(opts.Network) == "mainnet" {
		proofPolicy = ton.ProofCheckPolicySecure
	}

	return ton.NewAPIClient(client, proofPolicy).WithRetry(), nil
}

// Ledger moves TON between custodial wallets and skill authors.
//
// Transfer ids are TxRef strings.
type Ledger struct {
	api     ton.APIClientWrapped
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker[any]
	log     *zap.Logger
}

func NewLedger(api ton.APIClientWrapped, timeout time.Duration, log *zap.Logger) *Ledger {
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "ton-ledger",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &Ledger{api: api, timeout: timeout, breaker: cb, log: log}
}

func (l *Ledger) GetBalance(ctx context.Context, walletAddress string) (decimal.Decimal, error) {
	addr, err := address.ParseAddr(walletAddress)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	res, err := l.execute(ctx, func(ctx context.Context) (any, error) {
		block, err := l.api.CurrentMasterchainInfo(ctx)
		if err != nil {
			return nil, fmt.Errorf("get master block: %w", err)
		}
		acc, err := l.api.GetAccount(ctx, block, addr)
		if err != nil {
			return nil, fmt.Errorf("get account: %w", err)
		}
		if acc == nil || !acc.IsActive || acc.State == nil {
			return decimal.Zero, nil
		}
		return decimal.NewFromBigInt(acc.State.Balance.Nano(), -nanoDecimals), nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return res.(decimal.Decimal), nil
}

// BuildTransfer validates both ends and the amount without touching the network.
func (l *Ledger) BuildTransfer(_ context.Context, from, to string, amount decimal.Decimal) (*models.Transfer, error) {
	if _, err := address.ParseAddr(from); err != nil {
		return nil, fmt.Errorf("%w: from: %v", ErrInvalidAddress, err)
	}
	if _, err := address.ParseAddr(to); err != nil {
		return nil, fmt.Errorf("%w: to: %v", ErrInvalidAddress, err)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("transfer amount must be positive, got %s", amount)
	}
	if !amount.Equal(amount.Truncate(nanoDecimals)) {
		return nil, fmt.Errorf("transfer amount %s has more than %d decimals", amount, nanoDecimals)
	}
	return &models.Transfer{From: from, To: to, Amount: amount}, nil
}

// SignAndSubmit signs with key, sends, and waits for the transaction to land
// in a block. The key must belong to the transfer's From wallet.
//
// The message is sent without IgnoreErrors so a wallet that cannot cover the
// amount plus fees fails its action phase instead of silently skipping the
// payment. Either way the wallet transaction lands; Verify is what tells a
// paid transfer from one that sent nothing.
func (l *Ledger) SignAndSubmit(ctx context.Context, tr *models.Transfer, key ed25519.PrivateKey) (string, error) {
	from, err := address.ParseAddr(tr.From)
	if err != nil {
		return "", fmt.Errorf("%w: from: %v", ErrInvalidAddress, err)
	}
	to, err := address.ParseAddr(tr.To)
	if err != nil {
		return "", fmt.Errorf("%w: to: %v", ErrInvalidAddress, err)
	}

	w, err := wallet.FromPrivateKey(l.api, key, WalletVersion)
	if err != nil {
		return "", fmt.Errorf("open wallet: %w", err)
	}
	if !sameAddress(w.WalletAddress(), from) {
		return "", fmt.Errorf("key does not control wallet %s", tr.From)
	}

	nano := toNano(tr.Amount)

	res, err := l.execute(ctx, func(ctx context.Context) (any, error) {
		msg, err := w.BuildTransfer(to, tlb.FromNanoTON(nano), false, tr.Comment)
		if err != nil {
			return nil, fmt.Errorf("build transfer: %w", err)
		}
		msg.Mode = wallet.PayGasSeparately
		tx, _, err := w.SendWaitTransaction(ctx, msg)
		if err != nil {
			return nil, fmt.Errorf("send transaction: %w", err)
		}
		return tx, nil
	})
	if err != nil {
		return "", err
	}

	tx := res.(*tlb.Transaction)
	txID := TxRef{From: tr.From, LT: tx.LT, Hash: tx.Hash, To: tr.To, Nano: nano}.String()
	l.log.Info("transfer submitted",
		zap.String("from", tr.From),
		zap.String("to", tr.To),
		zap.String("amount", tr.Amount.String()),
		zap.String("tx", txID),
	)
	return txID, nil
}

// Verify looks the transaction up on the sender's account. It is confirmed
// only when it carries an outgoing internal message paying the recorded
// amount to the recorded destination. A transaction whose action phase
// failed or skipped the send has no such message.
func (l *Ledger) Verify(ctx context.Context, txID string) (models.TransferStatus, error) {
	ref, err := ParseTxID(txID)
	if err != nil {
		return models.TransferStatus{}, err
	}
	from, err := address.ParseAddr(ref.From)
	if err != nil {
		return models.TransferStatus{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	to, err := address.ParseAddr(ref.To)
	if err != nil {
		return models.TransferStatus{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	res, err := l.execute(ctx, func(ctx context.Context) (any, error) {
		txs, err := l.api.ListTransactions(ctx, from, 1, ref.LT, ref.Hash)
		if err != nil {
			return nil, fmt.Errorf("list transactions (lt=%d): %w", ref.LT, err)
		}
		return txs, nil
	})
	if err != nil {
		return models.TransferStatus{Error: err.Error()}, err
	}

	for _, tx := range res.([]*tlb.Transaction) {
		if tx.LT != ref.LT || !bytes.Equal(tx.Hash, ref.Hash) {
			continue
		}
		msgs, err := outgoing(tx)
		if err != nil {
			return models.TransferStatus{Error: err.Error()}, err
		}
		if findPayment(msgs, to, ref.Nano, nil) == nil {
			return models.TransferStatus{Error: "transaction sent no payment to " + ref.To}, nil
		}
		return models.TransferStatus{Confirmed: true, Slot: tx.LT}, nil
	}
	return models.TransferStatus{Confirmed: false, Error: "transaction not found"}, nil
}

// FindTransfer searches the sender's recent transactions for one that paid
// tr in full with tr.Comment attached, and returns its transaction id.
func (l *Ledger) FindTransfer(ctx context.Context, tr *models.Transfer) (string, bool, error) {
	from, err := address.ParseAddr(tr.From)
	if err != nil {
		return "", false, fmt.Errorf("%w: from: %v", ErrInvalidAddress, err)
	}
	to, err := address.ParseAddr(tr.To)
	if err != nil {
		return "", false, fmt.Errorf("%w: to: %v", ErrInvalidAddress, err)
	}
	nano := toNano(tr.Amount)
	comment := tr.Comment

	res, err := l.execute(ctx, func(ctx context.Context) (any, error) {
		block, err := l.api.CurrentMasterchainInfo(ctx)
		if err != nil {
			return nil, fmt.Errorf("get master block: %w", err)
		}
		acc, err := l.api.GetAccount(ctx, block, from)
		if err != nil {
			return nil, fmt.Errorf("get account: %w", err)
		}
		if acc == nil || acc.LastTxLT == 0 {
			return (*tlb.Transaction)(nil), nil
		}
		txs, err := l.api.ListTransactions(ctx, from, transferSearchDepth, acc.LastTxLT, acc.LastTxHash)
		if err != nil {
			return nil, fmt.Errorf("list transactions: %w", err)
		}
		for _, tx := range txs {
			msgs, err := outgoing(tx)
			if err != nil {
				continue
			}
			if findPayment(msgs, to, nano, &comment) != nil {
				return tx, nil
			}
		}
		return (*tlb.Transaction)(nil), nil
	})
	if err != nil {
		return "", false, err
	}

	tx := res.(*tlb.Transaction)
	if tx == nil {
		return "", false, nil
	}
	return TxRef{From: tr.From, LT: tx.LT, Hash: tx.Hash, To: tr.To, Nano: nano}.String(), true, nil
}

func (l *Ledger) execute(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	res, err := l.breaker.Execute(func() (any, error) {
		return fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrLedgerOpen, err)
	}
	return res, err
}

func sameAddress(a, b *address.Address) bool {
	return a.Workchain() == b.Workchain() && bytes.Equal(a.Data(), b.Data())
}

func toNano(amount decimal.Decimal) *big.Int {
	return amount.Shift(nanoDecimals).BigInt()
}

// outgoing lists the internal messages a transaction sent.
func outgoing(tx *tlb.Transaction) ([]*tlb.InternalMessage, error) {
	if tx.IO.Out == nil {
		return nil, nil
	}
	msgs, err := tx.IO.Out.ToSlice()
	if err != nil {
		return nil, fmt.Errorf("decode out messages: %w", err)
	}
	out := make([]*tlb.InternalMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.MsgType != tlb.MsgTypeInternal {
			continue
		}
		out = append(out, m.AsInternal())
	}
	return out, nil
}

// findPayment returns the message paying exactly nano to dst. A non-nil
// comment must match too.
func findPayment(msgs []*tlb.InternalMessage, dst *address.Address, nano *big.Int, comment *string) *tlb.InternalMessage {
	for _, m := range msgs {
		if m == nil || m.DstAddr == nil || !sameAddress(m.DstAddr, dst) {
			continue
		}
		if m.Amount.Nano().Cmp(nano) != 0 {
			continue
		}
		if comment != nil && m.Comment() != *comment {
			continue
		}
		return m
	}
	return nil
}

// TxRef identifies a submitted transfer: the sender's transaction and the
// payment it has to carry. Its string form is
// "<from>:<lt>:<hash hex>:<to>:<nanotons>".
type TxRef struct {
	From string
	LT   uint64
	Hash []byte
	To   string
	Nano *big.Int
}

func (r TxRef) String() string {
	return strings.Join([]string{
		r.From,
		strconv.FormatUint(r.LT, 10),
		hex.EncodeToString(r.Hash),
		r.To,
		r.Nano.String(),
	}, ":")
}

func ParseTxID(id string) (TxRef, error) {
	parts := strings.Split(id, ":")
	if len(parts) != 5 || parts[0] == "" || parts[3] == "" {
		return TxRef{}, ErrInvalidTxID
	}
	lt, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return TxRef{}, fmt.Errorf("%w: lt: %v", ErrInvalidTxID, err)
	}
	hash, err := hex.DecodeString(parts[2])
	if err != nil || len(hash) != 32 {
		return TxRef{}, fmt.Errorf("%w: hash", ErrInvalidTxID)
	}
	nano, ok := new(big.Int).SetString(parts[4], 10)
	if !ok || nano.Sign() <= 0 {
		return TxRef{}, fmt.Errorf("%w: amount", ErrInvalidTxID)
	}
	return TxRef{From: parts[0], LT: lt, Hash: hash, To: parts[3], Nano: nano}, nil
}
