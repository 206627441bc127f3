// Package signing builds and verifies the owner-signed requests that
// authenticate WOOL collections.
package signing

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

const messageHeader = "Wooligotchi collect"

var (
	ErrSignatureMismatch = errors.New("signing: signature does not match owner")
	ErrMalformedMessage  = errors.New("signing: malformed message")
)

// CollectionRequest is one signed collection attempt. It lives only for the
// duration of the attempt; RequestID is the idempotency token the authority
// deduplicates on.
type CollectionRequest struct {
	Owner     string `json:"address"`
	NetworkID int64  `json:"chainId"`
	Day       string `json:"day"`
	RequestID string `json:"requestId"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

// Signer signs arbitrary messages with the owner's key.
type Signer interface {
	SignMessage(ctx context.Context, message []byte) ([]byte, error)
}

// SignerFunc adapts a function to Signer.
type SignerFunc func(ctx context.Context, message []byte) ([]byte, error)

func (f SignerFunc) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	return f(ctx, message)
}

// CanonicalMessage renders the exact text the owner signs.
func CanonicalMessage(owner string, networkID int64, day, requestID string) string {
	return messageHeader + "\n" +
		"address:" + owner + "\n" +
		"chain:" + strconv.FormatInt(networkID, 10) + "\n" +
		"yyyymmdd:" + day + "\n" +
		"request:" + requestID
}

// Fields is the parsed form of a canonical message.
type Fields struct {
	Owner     string
	NetworkID int64
	Day       string
	RequestID string
}

// ParseMessage reverses CanonicalMessage.
func ParseMessage(message string) (Fields, error) {
	lines := strings.Split(message, "\n")
	if len(lines) != 5 || lines[0] != messageHeader {
		return Fields{}, ErrMalformedMessage
	}
	values := make(map[string]string, 4)
	for _, line := range lines[1:] {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			return Fields{}, ErrMalformedMessage
		}
		values[k] = v
	}
	chain, err := strconv.ParseInt(values["chain"], 10, 64)
	if err != nil {
		return Fields{}, fmt.Errorf("%w: chain: %v", ErrMalformedMessage, err)
	}
	f := Fields{
		Owner:     values["address"],
		NetworkID: chain,
		Day:       values["yyyymmdd"],
		RequestID: values["request"],
	}
	if f.Owner == "" || f.Day == "" || f.RequestID == "" {
		return Fields{}, ErrMalformedMessage
	}
	return f, nil
}

// Builder assembles signed requests.
type Builder struct {
	newID func() string
}

// NewBuilder returns a Builder generating random v4 request identifiers.
func NewBuilder() *Builder {
	return &Builder{newID: func() string { return uuid.NewString() }}
}

// Build signs a fresh request for owner on day.
func (b *Builder) Build(ctx context.Context, signer Signer, owner string, networkID int64, day string) (CollectionRequest, error) {
	if signer == nil {
		return CollectionRequest{}, errors.New("signing: no signer available")
	}
	id := b.newID()
	msg := CanonicalMessage(owner, networkID, day, id)
	sig, err := signer.SignMessage(ctx, []byte(msg))
	if err != nil {
		return CollectionRequest{}, fmt.Errorf("sign collection request: %w", err)
	}
	return CollectionRequest{
		Owner:     owner,
		NetworkID: networkID,
		Day:       day,
		RequestID: id,
		Message:   msg,
		Signature: hexutil.Encode(sig),
	}, nil
}

// KeySigner signs EIP-191 personal messages with a local private key.
type KeySigner struct {
	key *ecdsa.PrivateKey
}

// NewKeySigner wraps key.
func NewKeySigner(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{key: key}
}

// ParseKeySigner loads a hex-encoded secp256k1 private key.
func ParseKeySigner(hexKey string) (*KeySigner, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if trimmed == "" {
		return nil, errors.New("empty private key")
	}
	key, err := ethcrypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}
	return &KeySigner{key: key}, nil
}

// Address returns the lowercase hex address of the key.
func (s *KeySigner) Address() string {
	return strings.ToLower(ethcrypto.PubkeyToAddress(s.key.PublicKey).Hex())
}

// PrivateKey exposes the key for transaction signing.
func (s *KeySigner) PrivateKey() *ecdsa.PrivateKey {
	return s.key
}

func (s *KeySigner) SignMessage(_ context.Context, message []byte) ([]byte, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash(message), s.key)
	if err != nil {
		return nil, err
	}
	sig[ethcrypto.RecoveryIDOffset] += 27
	return sig, nil
}

// Recover returns the lowercase address that produced signature over the
// personal message.
func Recover(message string, signature string) (string, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return "", fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != ethcrypto.SignatureLength {
		return "", fmt.Errorf("signature must be %d bytes", ethcrypto.SignatureLength)
	}
	if sig[ethcrypto.RecoveryIDOffset] >= 27 {
		sig[ethcrypto.RecoveryIDOffset] -= 27
	}
	pub, err := ethcrypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return "", fmt.Errorf("recover pubkey: %w", err)
	}
	return strings.ToLower(ethcrypto.PubkeyToAddress(*pub).Hex()), nil
}

// Verify checks that req carries a signature by req.Owner over a message
// whose fields match the request body.
func Verify(req CollectionRequest) (Fields, error) {
	f, err := ParseMessage(req.Message)
	if err != nil {
		return Fields{}, err
	}
	if !strings.EqualFold(f.Owner, req.Owner) || f.NetworkID != req.NetworkID ||
		f.RequestID != req.RequestID || (req.Day != "" && f.Day != req.Day) {
		return Fields{}, fmt.Errorf("%w: body does not match message", ErrMalformedMessage)
	}
	addr, err := Recover(req.Message, req.Signature)
	if err != nil {
		return Fields{}, err
	}
	if !strings.EqualFold(addr, req.Owner) {
		return Fields{}, ErrSignatureMismatch
	}
	return f, nil
}
