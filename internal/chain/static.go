package chain

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SubmitFunc intercepts StaticNetwork submissions; a non-nil error rejects the payment.
type SubmitFunc func(ctx context.Context, destination string, amount uint64, memo string) error

// StaticNetwork simulates a payment network that accepts every transfer and
// settles it immediately. It is used in development and tests.
type StaticNetwork struct {
	mu       sync.Mutex
	balances map[string]uint64
	txs      []Transaction
	lt       uint64
	wallet   string
	onSubmit SubmitFunc
}

// NewStaticNetwork creates a simulated network whose hot wallet is walletAddress.
func NewStaticNetwork(walletAddress string) *StaticNetwork {
	return &StaticNetwork{balances: make(map[string]uint64), wallet: walletAddress}
}

// OnSubmit installs a hook run before each submission is accepted.
func (n *StaticNetwork) OnSubmit(fn SubmitFunc) {
	n.mu.Lock()
	n.onSubmit = fn
	n.mu.Unlock()
}

func (n *StaticNetwork) SubmitPayment(ctx context.Context, destination string, amount uint64, memo string) (string, error) {
	if !n.ValidAddress(destination) {
		return "", ErrInvalidAddress
	}
	n.mu.Lock()
	hook := n.onSubmit
	n.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, destination, amount, memo); err != nil {
			return "", err
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.lt++
	tx := Transaction{
		Hash:      strings.ReplaceAll(uuid.NewString(), "-", ""),
		From:      n.wallet,
		To:        destination,
		Amount:    amount,
		Memo:      memo,
		LT:        n.lt,
		SettledAt: time.Now().UTC(),
	}
	n.balances[destination] += amount
	n.txs = append(n.txs, tx)
	return tx.Hash, nil
}

func (n *StaticNetwork) QueryBalance(_ context.Context, address string) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.balances[address], nil
}

func (n *StaticNetwork) QueryTransaction(_ context.Context, txHash string) (Transaction, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, tx := range n.txs {
		if tx.Hash == txHash {
			return tx, nil
		}
	}
	return Transaction{}, ErrTxNotFound
}

func (n *StaticNetwork) AccountExists(_ context.Context, address string) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.balances[address]
	return ok, nil
}

func (n *StaticNetwork) CreateAccount(ctx context.Context, address string, initialBalance uint64) (string, error) {
	if !n.ValidAddress(address) {
		return "", ErrInvalidAddress
	}
	if initialBalance > 0 {
		return n.SubmitPayment(ctx, address, initialBalance, "")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.balances[address]; !ok {
		n.balances[address] = 0
	}
	return "", nil
}

// ValidAddress accepts any non-empty address without whitespace.
func (n *StaticNetwork) ValidAddress(address string) bool {
	return address != "" && len(address) <= 128 && !strings.ContainsAny(address, " \t\r\n")
}

// Outgoing lists simulated transfers after afterLT.
func (n *StaticNetwork) Outgoing(_ context.Context, afterLT uint64) ([]Transaction, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Transaction, 0)
	for _, tx := range n.txs {
		if tx.LT > afterLT {
			out = append(out, tx)
		}
	}
	return out, nil
}

// Submitted returns every transfer carrying a memo, in submission order.
func (n *StaticNetwork) Submitted() []Transaction {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Transaction, 0, len(n.txs))
	for _, tx := range n.txs {
		if tx.Memo != "" {
			out = append(out, tx)
		}
	}
	return out
}
