// Package ton implements the payment network on TON through lite servers.
package ton

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/ton/wallet"
	"go.uber.org/zap"

	"github.com/tippic/tippic_server/internal/chain"
	"github.com/tippic/tippic_server/internal/config"
)

const (
	txBatchSize   = 100
	lookupDepth   = 50
	mainnetConfig = "https://ton.org/global.config.json"
	testnetConfig = "https://ton.org/testnet-global.config.json"
)

// Client is a chain.Network and chain.Source backed by a V4R2 hot wallet.
type Client struct {
	api    ton.APIClientWrapped
	wallet *wallet.Wallet
	addr   *address.Address
	logger *zap.Logger

	// a wallet accepts one message per seqno
	sendMu sync.Mutex
}

// Connect dials the lite servers listed in the network config and opens the hot wallet.
func Connect(ctx context.Context, cfg config.TON, logger *zap.Logger) (*Client, error) {
	if len(cfg.WalletSeed) == 0 {
		return nil, fmt.Errorf("TON_WALLET_SEED is required")
	}

	pool := liteclient.NewConnectionPool()
	url := configURL(cfg)
	logger.Info("connecting via global config", zap.String("url", url), zap.String("network", cfg.Network))
	if err := pool.AddConnectionsFromConfigUrl(ctx, url); err != nil {
		return nil, fmt.Errorf("connect via config %s: %w", url, err)
	}

	policy := ton.ProofCheckPolicyFast
	if strings.EqualFold(cfg.Network, "mainnet") {
		policy = ton.ProofCheckPolicySecure
	}
	api := ton.NewAPIClient(pool, policy).WithRetry()

	w, err := wallet.FromSeed(api, cfg.WalletSeed, wallet.V4R2)
	if err != nil {
		return nil, fmt.Errorf("open wallet: %w", err)
	}

	logger.Info("hot wallet ready", zap.String("address", w.WalletAddress().String()))
	return &Client{api: api, wallet: w, addr: w.WalletAddress(), logger: logger}, nil
}

func configURL(cfg config.TON) string {
	if cfg.LiteConfigURL != "" {
		return cfg.LiteConfigURL
	}
	if strings.EqualFold(cfg.Network, "mainnet") {
		return mainnetConfig
	}
	return testnetConfig
}

// Address returns the hot wallet address.
func (c *Client) Address() string {
	return c.addr.String()
}

// SubmitPayment sends amount nanotons with memo as a text comment and waits
// for the wallet transaction to land. The returned id is the wallet
// transaction hash, which is also what the watcher reports.
func (c *Client) SubmitPayment(ctx context.Context, destination string, amount uint64, memo string) (string, error) {
	return c.send(ctx, destination, amount, memo, true)
}

// CreateAccount deploys the destination by sending a non-bounceable transfer.
// A zero initial balance is a no-op; the first payment creates the account.
func (c *Client) CreateAccount(ctx context.Context, destination string, initialBalance uint64) (string, error) {
	if initialBalance == 0 {
		return "", nil
	}
	return c.send(ctx, destination, initialBalance, "", false)
}

func (c *Client) send(ctx context.Context, destination string, amount uint64, memo string, bounce bool) (string, error) {
	to, err := address.ParseAddr(destination)
	if err != nil {
		return "", chain.ErrInvalidAddress
	}

	msg, err := c.wallet.BuildTransfer(to, tlb.FromNanoTONU(amount), bounce, memo)
	if err != nil {
		return "", fmt.Errorf("build transfer: %w", err)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	tx, _, err := c.wallet.SendWaitTransaction(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("send transfer: %w", err)
	}

	hash := hex.EncodeToString(tx.Hash)
	c.logger.Info("transfer sent",
		zap.String("to", destination),
		zap.Uint64("amount", amount),
		zap.String("memo", memo),
		zap.String("tx_hash", hash),
	)
	return hash, nil
}

// QueryBalance returns the account balance in nanotons.
func (c *Client) QueryBalance(ctx context.Context, addr string) (uint64, error) {
	acc, err := c.account(ctx, addr)
	if err != nil {
		return 0, err
	}
	if acc == nil || !acc.IsActive || acc.State == nil {
		return 0, nil
	}
	return acc.State.Balance.Nano().Uint64(), nil
}

// AccountExists reports whether the account is active.
func (c *Client) AccountExists(ctx context.Context, addr string) (bool, error) {
	acc, err := c.account(ctx, addr)
	if err != nil {
		return false, err
	}
	return acc != nil && acc.IsActive, nil
}

// QueryTransaction looks the hash up among the hot wallet's recent transactions.
func (c *Client) QueryTransaction(ctx context.Context, txHash string) (chain.Transaction, error) {
	acc, err := c.account(ctx, c.addr.String())
	if err != nil {
		return chain.Transaction{}, err
	}
	if acc == nil || !acc.IsActive || acc.LastTxLT == 0 {
		return chain.Transaction{}, chain.ErrTxNotFound
	}

	txs, err := c.api.ListTransactions(ctx, c.addr, lookupDepth, acc.LastTxLT, acc.LastTxHash)
	if err != nil {
		return chain.Transaction{}, fmt.Errorf("list transactions: %w", err)
	}
	for _, tx := range txs {
		if hex.EncodeToString(tx.Hash) != txHash {
			continue
		}
		if out := outgoing(tx); len(out) > 0 {
			return out[0], nil
		}
		return chain.Transaction{Hash: txHash, From: c.addr.String(), LT: tx.LT, SettledAt: time.Unix(int64(tx.Now), 0).UTC()}, nil
	}
	return chain.Transaction{}, chain.ErrTxNotFound
}

// ValidAddress reports whether addr parses as a TON address.
func (c *Client) ValidAddress(addr string) bool {
	_, err := address.ParseAddr(addr)
	return err == nil
}

// Outgoing returns transfers sent by the hot wallet after afterLT, oldest first.
func (c *Client) Outgoing(ctx context.Context, afterLT uint64) ([]chain.Transaction, error) {
	acc, err := c.account(ctx, c.addr.String())
	if err != nil {
		return nil, err
	}
	if acc == nil || !acc.IsActive || acc.LastTxLT <= afterLT {
		return nil, nil
	}

	var found []*tlb.Transaction
	lt, hash := acc.LastTxLT, acc.LastTxHash
	for {
		txs, err := c.api.ListTransactions(ctx, c.addr, txBatchSize, lt, hash)
		if err != nil {
			return nil, fmt.Errorf("list transactions (lt=%d): %w", lt, err)
		}
		if len(txs) == 0 {
			break
		}

		reachedCursor := false
		for _, tx := range txs {
			if tx.LT <= afterLT {
				reachedCursor = true
				continue
			}
			found = append(found, tx)
		}
		if reachedCursor || len(txs) < txBatchSize {
			break
		}
		oldest := txs[0]
		if oldest.PrevTxLT == 0 {
			break
		}
		lt, hash = oldest.PrevTxLT, oldest.PrevTxHash
	}

	sort.Slice(found, func(i, j int) bool { return found[i].LT < found[j].LT })

	out := make([]chain.Transaction, 0, len(found))
	for _, tx := range found {
		out = append(out, outgoing(tx)...)
	}
	return out, nil
}

func (c *Client) account(ctx context.Context, addr string) (*tlb.Account, error) {
	parsed, err := address.ParseAddr(addr)
	if err != nil {
		return nil, chain.ErrInvalidAddress
	}
	block, err := c.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("get master block: %w", err)
	}
	acc, err := c.api.GetAccount(ctx, block, parsed)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return acc, nil
}

// outgoing converts the internal messages a wallet transaction emitted.
func outgoing(tx *tlb.Transaction) []chain.Transaction {
	if tx.IO.Out == nil {
		return nil
	}
	msgs, err := tx.IO.Out.ToSlice()
	if err != nil {
		return nil
	}

	hash := hex.EncodeToString(tx.Hash)
	out := make([]chain.Transaction, 0, len(msgs))
	for _, m := range msgs {
		msg, ok := m.Msg.(*tlb.InternalMessage)
		if !ok || msg == nil {
			continue
		}
		out = append(out, chain.Transaction{
			Hash:      hash,
			From:      addrString(msg.SrcAddr),
			To:        addrString(msg.DstAddr),
			Amount:    msg.Amount.Nano().Uint64(),
			Memo:      extractComment(msg),
			LT:        tx.LT,
			SettledAt: time.Unix(int64(tx.Now), 0).UTC(),
		})
	}
	return out
}

func addrString(a *address.Address) string {
	if a == nil {
		return ""
	}
	return a.String()
}

// extractComment parses a text comment (opcode 0 followed by UTF-8) from a message body.
func extractComment(msg *tlb.InternalMessage) string {
	body := msg.Body
	if body == nil {
		return ""
	}

	slice := body.BeginParse()
	if slice.BitsLeft() < 32 {
		return ""
	}
	op, err := slice.LoadUInt(32)
	if err != nil || op != 0 {
		return ""
	}

	remaining := slice.BitsLeft()
	if remaining < 8 {
		return ""
	}
	data, err := slice.LoadSlice(remaining)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
