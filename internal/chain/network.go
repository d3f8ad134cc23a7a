// Package chain defines the payment network contract the coordination layer
// depends on, plus an in-process simulation of it.
package chain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTxNotFound indicates the network has no record of the transaction.
	ErrTxNotFound = errors.New("transaction not found")
	// ErrInvalidAddress indicates a malformed destination address.
	ErrInvalidAddress = errors.New("invalid address")
)

// Transaction is a settled transfer observed on the network.
type Transaction struct {
	Hash      string
	From      string
	To        string
	Amount    uint64
	Memo      string
	LT        uint64
	SettledAt time.Time
}

// Network is the payment network. SubmitPayment returns once the network has
// accepted the transfer; settlement is reported separately.
type Network interface {
	SubmitPayment(ctx context.Context, destination string, amount uint64, memo string) (string, error)
	QueryBalance(ctx context.Context, address string) (uint64, error)
	QueryTransaction(ctx context.Context, txHash string) (Transaction, error)
	AccountExists(ctx context.Context, address string) (bool, error)
	CreateAccount(ctx context.Context, address string, initialBalance uint64) (string, error)
	ValidAddress(address string) bool
}

// Source lists transfers sent from the service wallet with a logical time
// greater than afterLT, oldest first.
type Source interface {
	Outgoing(ctx context.Context, afterLT uint64) ([]Transaction, error)
}
