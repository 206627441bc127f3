// Package chain is the wallet and chain collaborator: owner identity,
// collateral transfers, receipts, message signing and chain time.
package chain

import (
	"context"
	"errors"
	"math/big"
	"time"
)

var (
	ErrNoWallet       = errors.New("chain: wallet not connected")
	ErrReceiptTimeout = errors.New("chain: timed out waiting for receipt")
)

// Wallet is everything the core needs from the connected owner's wallet.
type Wallet interface {
	Address() string
	NetworkID() int64
	// SubmitTransfer sends one collateral token to the vault and returns the
	// pending transaction id once the wallet accepted it.
	SubmitTransfer(ctx context.Context, tokenID *big.Int) (string, error)
	// WaitForReceipt blocks until txID is mined and reports its success.
	WaitForReceipt(ctx context.Context, txID string) (bool, error)
	SignMessage(ctx context.Context, message []byte) ([]byte, error)
}

// FuncWallet adapts plain functions to Wallet. Nil functions fail with
// ErrNoWallet.
type FuncWallet struct {
	Owner     string
	Network   int64
	SubmitFn  func(ctx context.Context, tokenID *big.Int) (string, error)
	ReceiptFn func(ctx context.Context, txID string) (bool, error)
	SignFn    func(ctx context.Context, message []byte) ([]byte, error)
}

func (w FuncWallet) Address() string  { return w.Owner }
func (w FuncWallet) NetworkID() int64 { return w.Network }

func (w FuncWallet) SubmitTransfer(ctx context.Context, tokenID *big.Int) (string, error) {
	if w.SubmitFn == nil {
		return "", ErrNoWallet
	}
	return w.SubmitFn(ctx, tokenID)
}

func (w FuncWallet) WaitForReceipt(ctx context.Context, txID string) (bool, error) {
	if w.ReceiptFn == nil {
		return false, ErrNoWallet
	}
	return w.ReceiptFn(ctx, txID)
}

func (w FuncWallet) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	if w.SignFn == nil {
		return nil, ErrNoWallet
	}
	return w.SignFn(ctx, message)
}

// Clock reports authoritative time.
type Clock interface {
	Now(ctx context.Context) (time.Time, error)
}

// ClockFunc adapts a function to Clock.
type ClockFunc func(ctx context.Context) (time.Time, error)

func (f ClockFunc) Now(ctx context.Context) (time.Time, error) { return f(ctx) }
