package ton

import (
	"crypto/ed25519"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton/wallet"
	"go.uber.org/zap"
)

func newAddress(t *testing.T) string {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	addr, err := AddressFromPublicKey(pub)
	require.NoError(t, err)
	return addr
}

func TestAddressFromPublicKeyDeterministic(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	a, err := AddressFromPublicKey(pub)
	require.NoError(t, err)
	b, err := AddressFromPublicKey(pub)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotContains(t, a, ":")
}

func TestTxRefRoundTrip(t *testing.T) {
	hash := make([]byte, 32)
	hash[31] = 0xab
	ref := TxRef{From: newAddress(t), LT: 4242, Hash: hash, To: newAddress(t), Nano: big.NewInt(500_000_000)}

	got, err := ParseTxID(ref.String())
	require.NoError(t, err)
	assert.Equal(t, ref.From, got.From)
	assert.Equal(t, uint64(4242), got.LT)
	assert.Equal(t, hash, got.Hash)
	assert.Equal(t, ref.To, got.To)
	assert.Equal(t, 0, got.Nano.Cmp(ref.Nano))
}

func TestParseTxIDRejects(t *testing.T) {
	zeros := strings.Repeat("00", 32)
	inputs := []string{
		"",
		"addr:1",
		"addr:1:" + zeros,
		":1:" + zeros + ":to:1",
		"addr:x:" + zeros + ":to:1",
		"addr:1:abcd:to:1",
		"addr:1:" + strings.Repeat("zz", 32) + ":to:1",
		"addr:1:" + zeros + "::1",
		"addr:1:" + zeros + ":to:0",
		"addr:1:" + zeros + ":to:1.5",
	}
	for _, in := range inputs {
		_, err := ParseTxID(in)
		assert.True(t, errors.Is(err, ErrInvalidTxID), "input %q: %v", in, err)
	}
}

func TestFindPayment(t *testing.T) {
	author := address.MustParseAddr(newAddress(t))
	other := address.MustParseAddr(newAddress(t))
	half := big.NewInt(500_000_000)
	memo := "skill:web-search:1"

	body, err := wallet.CreateCommentCell(memo)
	require.NoError(t, err)
	paid := &tlb.InternalMessage{DstAddr: author, Amount: tlb.FromNanoTON(half), Body: body}

	tests := []struct {
		name    string
		msgs    []*tlb.InternalMessage
		comment *string
		want    bool
	}{
		{"nothing sent", nil, nil, false},
		{"paid", []*tlb.InternalMessage{paid}, nil, true},
		{"paid with memo", []*tlb.InternalMessage{paid}, &memo, true},
		{"wrong memo", []*tlb.InternalMessage{paid}, ptr("skill:web-search:2"), false},
		{"other destination", []*tlb.InternalMessage{{DstAddr: other, Amount: tlb.FromNanoTON(half)}}, nil, false},
		{"short amount", []*tlb.InternalMessage{{DstAddr: author, Amount: tlb.FromNanoTON(big.NewInt(1))}}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := findPayment(tt.msgs, author, half, tt.comment)
			assert.Equal(t, tt.want, got != nil)
		})
	}
}

func TestOutgoingWithoutMessages(t *testing.T) {
	msgs, err := outgoing(&tlb.Transaction{})
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func ptr(s string) *string { return &s }

func TestBuildTransfer(t *testing.T) {
	l := NewLedger(nil, 0, zap.NewNop())
	from, to := newAddress(t), newAddress(t)

	tr, err := l.BuildTransfer(t.Context(), from, to, decimal.RequireFromString("0.5"))
	require.NoError(t, err)
	assert.Equal(t, from, tr.From)
	assert.Equal(t, to, tr.To)
	assert.True(t, tr.Amount.Equal(decimal.RequireFromString("0.5")))

	_, err = l.BuildTransfer(t.Context(), from, to, decimal.Zero)
	assert.Error(t, err)

	_, err = l.BuildTransfer(t.Context(), from, to, decimal.RequireFromString("0.0000000001"))
	assert.Error(t, err)

	_, err = l.BuildTransfer(t.Context(), "nope", to, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ErrInvalidAddress)
}
