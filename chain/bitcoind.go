// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/cosigner/coinselect"
	"github.com/btcsuite/cosigner/descriptor"
	"github.com/btcsuite/cosigner/pkg/btcunit"
	"github.com/btcsuite/cosigner/wallet"
)

var (
	// ErrAddressCount is returned when the node derives a different
	// number of addresses than requested.
	ErrAddressCount = errors.New("unexpected number of derived addresses")

	// ErrTxidMismatch is returned when the node reports a different txid
	// for a broadcast transaction.
	ErrTxidMismatch = errors.New("broadcast txid mismatch")

	// ErrAddressNetwork is returned when the node derives an address of
	// another network than the client is configured for.
	ErrAddressNetwork = errors.New("derived address is for another " +
		"network")

	// ErrInvalidRange is returned when a derivation range ends before it
	// starts.
	ErrInvalidRange = errors.New("invalid derivation range")
)

// RPCClient is the subset of the bitcoind JSON-RPC interface the wallet
// needs. It is satisfied by *rpcclient.Client.
type RPCClient interface {
	// ListUnspentMinMax lists the unspent outputs of the node wallet
	// with a number of confirmations in [minConf, maxConf].
	ListUnspentMinMax(minConf, maxConf int) ([]btcjson.ListUnspentResult,
		error)

	// GetRawTransaction returns the transaction with the given hash.
	GetRawTransaction(txHash *chainhash.Hash) (*btcutil.Tx, error)

	// DeriveAddresses derives the addresses of a checksummed
	// descriptor.
	DeriveAddresses(descriptor string,
		descriptorRange *btcjson.DescriptorRange) (
		*btcjson.DeriveAddressesResult, error)

	// SendRawTransaction submits a transaction to the network.
	SendRawTransaction(tx *wire.MsgTx, allowHighFees bool) (
		*chainhash.Hash, error)
}

// A compile-time assertion to ensure that *rpcclient.Client implements the
// RPCClient interface.
var _ RPCClient = (*rpcclient.Client)(nil)

// A compile-time assertion to ensure that BitcoindClient implements the
// wallet ports.
var (
	_ wallet.UtxoProvider            = (*BitcoindClient)(nil)
	_ wallet.AddressDerivationOracle = (*BitcoindClient)(nil)
	_ wallet.TxPublisher             = (*BitcoindClient)(nil)
)

// BitcoindConfig defines the config options used when connecting to a
// bitcoind node over HTTP POST JSON-RPC.
type BitcoindConfig struct {
	// Host is the host:port of the node's RPC server. A wallet path such
	// as "127.0.0.1:8332/wallet/cosigner" selects the node wallet.
	Host string

	// User is the RPC user name.
	User string

	// Pass is the RPC password.
	Pass string

	// Chain defines the Bitcoin network the node is expected to run on.
	Chain *chaincfg.Params

	// DisableTLS disables TLS on the RPC connection. bitcoind does not
	// serve TLS itself, so this is usually set.
	DisableTLS bool

	// Certificates are the PEM encoded certificates of a TLS terminating
	// proxy in front of the node.
	Certificates []byte

	// FetchPrevTx makes ListUtxos fetch the full transaction of every
	// coin. Without it only coins paying to witness scripts can be spent.
	FetchPrevTx bool
}

// validate checks the required config options are set.
func (c *BitcoindConfig) validate() error {
	if c == nil {
		return errors.New("missing bitcoind config")
	}

	if c.Host == "" {
		return errors.New("missing rpc host")
	}

	// Make sure the chain params are configured.
	if c.Chain == nil {
		return errors.New("missing chain params config")
	}

	// If TLS is enabled, the certificate of the proxy must be provided.
	if !c.DisableTLS && len(c.Certificates) == 0 {
		return errors.New("must provide certs when TLS is enabled")
	}

	return nil
}

// BitcoindClient implements the wallet's UTXO, address derivation and
// broadcast ports on top of a bitcoind node.
type BitcoindClient struct {
	client      RPCClient
	chainParams *chaincfg.Params
	fetchPrevTx bool
}

// NewBitcoindClient connects to the node described by cfg.
func NewBitcoindClient(cfg *BitcoindConfig) (*BitcoindClient, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	rpcClient, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		DisableTLS:   cfg.DisableTLS,
		Certificates: cfg.Certificates,
		HTTPPostMode: true,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("create rpc client: %w", err)
	}

	return NewBitcoindClientWithRPC(rpcClient, cfg.Chain, cfg.FetchPrevTx)
}

// NewBitcoindClientWithRPC creates a client on top of an existing RPC
// connection.
func NewBitcoindClientWithRPC(client RPCClient, chainParams *chaincfg.Params,
	fetchPrevTx bool) (*BitcoindClient, error) {

	if client == nil {
		return nil, errors.New("missing rpc client")
	}
	if chainParams == nil {
		return nil, errors.New("missing chain params config")
	}

	return &BitcoindClient{
		client:      client,
		chainParams: chainParams,
		fetchPrevTx: fetchPrevTx,
	}, nil
}

// ListUtxos returns the spendable outputs of the node wallet with a number
// of confirmations in [minConf, maxConf].
func (c *BitcoindClient) ListUtxos(ctx context.Context, minConf,
	maxConf int64) ([]coinselect.Utxo, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results, err := c.client.ListUnspentMinMax(int(minConf), int(maxConf))
	if err != nil {
		return nil, fmt.Errorf("listunspent: %w", err)
	}

	prevTxs := make(map[chainhash.Hash]*wire.MsgTx)
	utxos := make([]coinselect.Utxo, 0, len(results))
	// A watch-only node wallet reports every output as not spendable, so
	// the flag is ignored.
	for _, result := range results {
		utxo, err := parseUnspent(result)
		if err != nil {
			return nil, err
		}

		if c.fetchPrevTx {
			prevTx, err := c.prevTx(ctx, prevTxs, utxo.OutPoint.Hash)
			if err != nil {
				return nil, err
			}
			utxo.PrevTx = prevTx
		}

		utxos = append(utxos, utxo)
	}

	log.Debugf("Listed %d utxos with %d to %d confirmations", len(utxos),
		minConf, maxConf)

	return utxos, nil
}

// prevTx fetches a transaction from the node, caching the result in cache.
func (c *BitcoindClient) prevTx(ctx context.Context,
	cache map[chainhash.Hash]*wire.MsgTx,
	hash chainhash.Hash) (*wire.MsgTx, error) {

	if tx, ok := cache[hash]; ok {
		return tx, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tx, err := c.client.GetRawTransaction(&hash)
	if err != nil {
		return nil, fmt.Errorf("getrawtransaction %v: %w", hash, err)
	}

	cache[hash] = tx.MsgTx()

	return tx.MsgTx(), nil
}

// parseUnspent converts a listunspent entry into a coin.
func parseUnspent(result btcjson.ListUnspentResult) (coinselect.Utxo,
	error) {

	hash, err := chainhash.NewHashFromStr(result.TxID)
	if err != nil {
		return coinselect.Utxo{}, fmt.Errorf("invalid txid %q: %w",
			result.TxID, err)
	}

	amount, err := btcunit.AmountFromFloat(result.Amount)
	if err != nil {
		return coinselect.Utxo{}, fmt.Errorf("invalid amount of "+
			"%v:%d: %w", hash, result.Vout, err)
	}

	pkScript, err := hex.DecodeString(result.ScriptPubKey)
	if err != nil {
		return coinselect.Utxo{}, fmt.Errorf("invalid script of "+
			"%v:%d: %w", hash, result.Vout, err)
	}

	return coinselect.Utxo{
		OutPoint:      *wire.NewOutPoint(hash, result.Vout),
		Amount:        amount,
		Confirmations: result.Confirmations,
		PkScript:      pkScript,
	}, nil
}

// DeriveAddresses asks the node to derive the addresses of desc for every
// index in [start, end].
func (c *BitcoindClient) DeriveAddresses(ctx context.Context,
	desc *descriptor.Descriptor, start,
	end uint32) ([]btcutil.Address, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text, err := checksummed(desc)
	if err != nil {
		return nil, err
	}

	var (
		descRange *btcjson.DescriptorRange
		expected  = 1
	)
	if desc.IsRange() {
		if end < start {
			return nil, fmt.Errorf("%w: [%d, %d]", ErrInvalidRange,
				start, end)
		}

		descRange = &btcjson.DescriptorRange{
			Value: []int{int(start), int(end)},
		}
		expected = int(end-start) + 1
	}

	result, err := c.client.DeriveAddresses(text, descRange)
	if err != nil {
		return nil, fmt.Errorf("deriveaddresses: %w", err)
	}

	var encoded []string
	if result != nil {
		encoded = *result
	}
	if len(encoded) != expected {
		return nil, fmt.Errorf("%w: want %d, got %d", ErrAddressCount,
			expected, len(encoded))
	}

	addrs := make([]btcutil.Address, 0, len(encoded))
	for _, s := range encoded {
		addr, err := btcutil.DecodeAddress(s, c.chainParams)
		if err != nil {
			return nil, fmt.Errorf("decode derived address %q: %w",
				s, err)
		}

		// Segwit addresses decode for any network, so the prefix is
		// checked here.
		if !addr.IsForNet(c.chainParams) {
			return nil, fmt.Errorf("%w: %s", ErrAddressNetwork, s)
		}
		addrs = append(addrs, addr)
	}

	return addrs, nil
}

// checksummed returns the descriptor text bitcoind expects. Descriptors
// that cannot be re-serialized are sent as given by the user.
func checksummed(desc *descriptor.Descriptor) (string, error) {
	text, err := desc.Serialize()
	if err == nil {
		return text, nil
	}
	if !errors.Is(err, descriptor.ErrUnsupported) {
		return "", err
	}

	body, _, _ := strings.Cut(desc.Original(), "#")

	return descriptor.AddChecksum(body)
}

// Broadcast submits tx to the node and returns its txid.
func (c *BitcoindClient) Broadcast(ctx context.Context,
	tx *wire.MsgTx) (*chainhash.Hash, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	txid, err := c.client.SendRawTransaction(tx, false)
	if err != nil {
		return nil, fmt.Errorf("sendrawtransaction: %w", err)
	}

	if expected := tx.TxHash(); *txid != expected {
		return nil, fmt.Errorf("%w: sent %v, node returned %v",
			ErrTxidMismatch, expected, txid)
	}

	log.Infof("Broadcast transaction %v", txid)

	return txid, nil
}
