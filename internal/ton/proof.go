package ton

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TON Connect ton_proof framing.
// https://docs.ton.org/develop/dapps/ton-connect/sign#checking-ton_proof-on-server-side
const (
	proofItemPrefix  = "ton-proof-item-v2/"
	proofConnectTag  = "ton-connect"
	MaxProofAge      = 5 * time.Minute
	maxProofSkew     = time.Minute
	rawAddressHashSz = 32
)

var (
	ErrProofExpired = errors.New("ton proof expired")
	ErrProofDomain  = errors.New("ton proof domain not allowed")
)

// ConnectProof is what a TON Connect wallet returns for a ton_proof request.
// Address is the raw "<workchain>:<hash hex>" form.
type ConnectProof struct {
	Address   string    `json:"address"`
	PublicKey string    `json:"public_key"`
	Proof     ProofItem `json:"proof"`
}

type ProofItem struct {
	Timestamp int64       `json:"timestamp"`
	Domain    ProofDomain `json:"domain"`
	Payload   string      `json:"payload"`
	Signature string      `json:"signature"`
}

type ProofDomain struct {
	LengthBytes uint32 `json:"lengthBytes"`
	Value       string `json:"value"`
}

// VerifyConnectProof checks freshness, domain and the wallet signature of a
// ton_proof and returns the signing key. An empty allowedDomains accepts any
// domain.
func VerifyConnectProof(p ConnectProof, allowedDomains []string, now time.Time) (ed25519.PublicKey, error) {
	signedAt := time.Unix(p.Proof.Timestamp, 0)
	if now.Sub(signedAt) > MaxProofAge {
		return nil, fmt.Errorf("%w: signed %s ago", ErrProofExpired, now.Sub(signedAt).Round(time.Second))
	}
	if signedAt.After(now.Add(maxProofSkew)) {
		return nil, fmt.Errorf("%w: timestamp is in the future", ErrProofExpired)
	}
	if !domainAllowed(p.Proof.Domain.Value, allowedDomains) {
		return nil, fmt.Errorf("%w: %q", ErrProofDomain, p.Proof.Domain.Value)
	}

	pub, err := ParsePublicKey(p.PublicKey)
	if err != nil {
		return nil, err
	}
	workchain, hash, err := ParseRawAddress(p.Address)
	if err != nil {
		return nil, err
	}
	sig, err := decodeFixed(strings.TrimSpace(p.Proof.Signature), ed25519.SignatureSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	digest := ProofDigest(workchain, hash, p.Proof)
	if !ed25519.Verify(pub, digest, sig) {
		return nil, ErrInvalidSignature
	}
	return pub, nil
}

// ProofDigest is the value a wallet signs:
// sha256(0xffff ++ "ton-connect" ++ sha256(message)), where message is
// prefix ++ workchain(4 BE) ++ hash ++ domain_len(4 LE) ++ domain ++
// timestamp(8 LE) ++ payload.
func ProofDigest(workchain int32, hash []byte, item ProofItem) []byte {
	msg := make([]byte, 0, len(proofItemPrefix)+4+len(hash)+4+len(item.Domain.Value)+8+len(item.Payload))
	msg = append(msg, proofItemPrefix...)
	msg = binary.BigEndian.AppendUint32(msg, uint32(workchain))
	msg = append(msg, hash...)
	msg = binary.LittleEndian.AppendUint32(msg, item.Domain.LengthBytes)
	msg = append(msg, item.Domain.Value...)
	msg = binary.LittleEndian.AppendUint64(msg, uint64(item.Timestamp))
	msg = append(msg, item.Payload...)
	msgHash := sha256.Sum256(msg)

	full := make([]byte, 0, 2+len(proofConnectTag)+len(msgHash))
	full = append(full, 0xff, 0xff)
	full = append(full, proofConnectTag...)
	full = append(full, msgHash[:]...)
	digest := sha256.Sum256(full)
	return digest[:]
}

// ParseRawAddress splits "<workchain>:<64 hex>" into its parts.
func ParseRawAddress(raw string) (int32, []byte, error) {
	wcPart, hashPart, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return 0, nil, fmt.Errorf("%w: %q is not a raw address", ErrInvalidAddress, raw)
	}
	wc, err := strconv.ParseInt(wcPart, 10, 32)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: bad workchain %q", ErrInvalidAddress, wcPart)
	}
	hash, err := hex.DecodeString(hashPart)
	if err != nil || len(hash) != rawAddressHashSz {
		return 0, nil, fmt.Errorf("%w: hash must be %d hex bytes", ErrInvalidAddress, rawAddressHashSz)
	}
	return int32(wc), hash, nil
}

func domainAllowed(domain string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, d := range allowed {
		if strings.EqualFold(d, domain) {
			return true
		}
	}
	return false
}
