package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/talgya/wooligotchi/internal/signing"
)

const erc721ABI = `[{"type":"function","name":"safeTransferFrom","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]}]`

const (
	DefaultReceiptPoll    = 2 * time.Second
	DefaultReceiptTimeout = 60 * time.Second
)

// Backend is the subset of the Ethereum RPC the wallet uses. *ethclient.Client
// satisfies it.
type Backend interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

var _ Backend = (*ethclient.Client)(nil)

// Dial opens an RPC client for endpoint.
func Dial(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("rpc endpoint required")
	}
	return ethclient.Dial(trimmed)
}

// KeyWalletConfig describes where collateral goes.
type KeyWalletConfig struct {
	NetworkID      int64
	Collection     string // ERC-721 contract accepted as collateral
	Vault          string // recipient of deposited tokens
	ReceiptPoll    time.Duration
	ReceiptTimeout time.Duration
}

// KeyWallet is a Wallet backed by a local private key and an RPC node.
type KeyWallet struct {
	backend    Backend
	signer     *signing.KeySigner
	chainID    *big.Int
	collection common.Address
	vault      common.Address
	poll       time.Duration
	timeout    time.Duration
	transfer   abi.ABI
}

// NewKeyWallet validates cfg and builds a wallet.
func NewKeyWallet(backend Backend, signer *signing.KeySigner, cfg KeyWalletConfig) (*KeyWallet, error) {
	if backend == nil {
		return nil, errors.New("chain backend required")
	}
	if signer == nil {
		return nil, errors.New("signer required")
	}
	if !common.IsHexAddress(cfg.Collection) {
		return nil, fmt.Errorf("invalid collection address %q", cfg.Collection)
	}
	if !common.IsHexAddress(cfg.Vault) || common.HexToAddress(cfg.Vault) == (common.Address{}) {
		return nil, fmt.Errorf("invalid vault address %q", cfg.Vault)
	}
	parsed, err := abi.JSON(strings.NewReader(erc721ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc721 abi: %w", err)
	}
	w := &KeyWallet{
		backend:    backend,
		signer:     signer,
		chainID:    big.NewInt(cfg.NetworkID),
		collection: common.HexToAddress(cfg.Collection),
		vault:      common.HexToAddress(cfg.Vault),
		poll:       cfg.ReceiptPoll,
		timeout:    cfg.ReceiptTimeout,
		transfer:   parsed,
	}
	if w.poll <= 0 {
		w.poll = DefaultReceiptPoll
	}
	if w.timeout <= 0 {
		w.timeout = DefaultReceiptTimeout
	}
	return w, nil
}

func (w *KeyWallet) Address() string  { return w.signer.Address() }
func (w *KeyWallet) NetworkID() int64 { return w.chainID.Int64() }

func (w *KeyWallet) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	return w.signer.SignMessage(ctx, message)
}

// SubmitTransfer sends safeTransferFrom(owner, vault, tokenID) to the
// collection contract.
func (w *KeyWallet) SubmitTransfer(ctx context.Context, tokenID *big.Int) (string, error) {
	if tokenID == nil || tokenID.Sign() < 0 {
		return "", errors.New("token id required")
	}
	from := common.HexToAddress(w.signer.Address())
	data, err := w.transfer.Pack("safeTransferFrom", from, w.vault, tokenID)
	if err != nil {
		return "", fmt.Errorf("pack transfer: %w", err)
	}
	nonce, err := w.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("fetch nonce: %w", err)
	}
	gasPrice, err := w.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("suggest gas price: %w", err)
	}
	to := w.collection
	gas, err := w.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		return "", fmt.Errorf("estimate gas: %w", err)
	}
	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(w.chainID), w.signer.PrivateKey())
	if err != nil {
		return "", fmt.Errorf("sign transfer: %w", err)
	}
	if err := w.backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send transfer: %w", err)
	}
	slog.Info("collateral transfer sent", "tx", signed.Hash().Hex(), "token", tokenID.String(), "vault", w.vault.Hex())
	return signed.Hash().Hex(), nil
}

// WaitForReceipt polls until txID is mined or the receipt timeout passes.
func (w *KeyWallet) WaitForReceipt(ctx context.Context, txID string) (bool, error) {
	hash := common.HexToHash(txID)
	if hash == (common.Hash{}) {
		return false, errors.New("tx hash required")
	}
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()
	for {
		receipt, err := w.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			return receipt.Status == gethtypes.ReceiptStatusSuccessful, nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			slog.Warn("receipt poll failed", "tx", txID, "error", err)
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return false, ErrReceiptTimeout
			}
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}

// HeaderClock reads time from the latest block header.
type HeaderClock struct {
	backend interface {
		HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	}
}

// NewHeaderClock wraps backend.
func NewHeaderClock(backend Backend) *HeaderClock {
	return &HeaderClock{backend: backend}
}

func (c *HeaderClock) Now(ctx context.Context) (time.Time, error) {
	header, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("fetch head: %w", err)
	}
	if header == nil {
		return time.Time{}, errors.New("block header missing")
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}
