// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/cosigner/pkg/btcunit"
	"github.com/btcsuite/cosigner/psbtdb"
	"github.com/btcsuite/cosigner/wallet"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// createCommand builds a PSBT from the wallet's coins.
type createCommand struct {
	cfg *config

	To          []string `long:"to" description:"Recipient as <address>=<amount in BTC>, may be repeated" required:"yes"`
	FeeRate     string   `long:"feerate" description:"Fee rate in sat/vB" required:"yes"`
	ChangeIndex uint32   `long:"changeindex" description:"Child index of the change address" required:"yes"`
	SubtractFee int      `long:"subtractfee" description:"Index of the recipient that pays the fee, -1 for none" default:"-1"`
	RBF         bool     `long:"rbf" description:"Signal replace-by-fee"`
	Coins       []string `long:"coin" description:"Spend exactly the given <txid>:<vout> outpoints, may be repeated"`
	Label       string   `long:"label" description:"Description stored with the PSBT"`
	DryRun      bool     `long:"dryrun" description:"Print the PSBT without storing it"`
}

// Execute builds the PSBT, stores it unless this is a dry run, and prints
// it.
func (c *createCommand) Execute(_ []string) error {
	req, err := c.spendRequest()
	if err != nil {
		return err
	}

	receive, change, err := c.cfg.descriptors()
	if err != nil {
		return err
	}

	client, err := c.cfg.chainClient()
	if err != nil {
		return err
	}

	store, closeDB, err := c.cfg.openStore()
	if err != nil {
		return err
	}
	defer closeDB()

	builder, err := wallet.NewPsbtBuilder(wallet.BuilderConfig{
		Receive: receive,
		Change:  change,
		Oracle:  client,
		Utxos:   client,
		Store:   store,
	})
	if err != nil {
		return err
	}

	build := builder.Create
	if c.DryRun {
		build = builder.Estimate
	}

	record, err := build(context.Background(), req)
	if err != nil {
		return err
	}

	out := c.cfg.out
	fmt.Fprintf(out, "txid:   %v\n", record.Txid)
	fmt.Fprintf(out, "amount: %s\n", btcunit.FormatBTC(record.Amount))
	fmt.Fprintf(out, "fee:    %s\n", btcunit.FormatBTC(record.Fee))
	fmt.Fprintf(out, "state:  %v\n", record.State)

	return printPsbt(c.cfg, record.Packet)
}

// spendRequest converts the command options into a spend request.
func (c *createCommand) spendRequest() (*wallet.SpendRequest, error) {
	feeRate, err := btcunit.ParseSatPerVByte(c.FeeRate)
	if err != nil {
		return nil, fmt.Errorf("invalid fee rate: %w", err)
	}

	recipients := make([]wallet.Recipient, 0, len(c.To))
	for _, to := range c.To {
		recipient, err := parseRecipient(to, c.cfg.params)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, recipient)
	}

	coins := make([]wire.OutPoint, 0, len(c.Coins))
	for _, coin := range c.Coins {
		op, err := parseOutPoint(coin)
		if err != nil {
			return nil, err
		}
		coins = append(coins, op)
	}

	subtractFee := fn.None[int]()
	if c.SubtractFee >= 0 {
		subtractFee = fn.Some(c.SubtractFee)
	}

	return &wallet.SpendRequest{
		Recipients:           recipients,
		FeeRate:              feeRate,
		SubtractFeeFromIndex: subtractFee,
		ReplaceByFee:         c.RBF,
		SelectedCoins:        coins,
		ChangeIndex:          c.ChangeIndex,
		Label:                c.Label,
	}, nil
}

// parseRecipient parses an <address>=<amount in BTC> pair.
func parseRecipient(s string, params *chaincfg.Params) (wallet.Recipient,
	error) {

	addrStr, amountStr, ok := strings.Cut(s, "=")
	if !ok {
		return wallet.Recipient{}, fmt.Errorf("invalid recipient %q, "+
			"expected <address>=<amount>", s)
	}

	addr, err := btcutil.DecodeAddress(addrStr, params)
	if err != nil {
		return wallet.Recipient{}, fmt.Errorf("invalid address %q: %w",
			addrStr, err)
	}

	amount, err := btcunit.ParseBTC(amountStr)
	if err != nil {
		return wallet.Recipient{}, fmt.Errorf("invalid amount %q: %w",
			amountStr, err)
	}

	return wallet.Recipient{Address: addr, Amount: amount}, nil
}

// parseOutPoint parses a <txid>:<vout> outpoint.
func parseOutPoint(s string) (wire.OutPoint, error) {
	txidStr, voutStr, ok := strings.Cut(s, ":")
	if !ok {
		return wire.OutPoint{}, fmt.Errorf("invalid outpoint %q, "+
			"expected <txid>:<vout>", s)
	}

	txid, err := chainhash.NewHashFromStr(txidStr)
	if err != nil {
		return wire.OutPoint{}, fmt.Errorf("invalid txid %q: %w",
			txidStr, err)
	}

	vout, err := strconv.ParseUint(voutStr, 10, 32)
	if err != nil {
		return wire.OutPoint{}, fmt.Errorf("invalid vout %q: %w",
			voutStr, err)
	}

	return *wire.NewOutPoint(txid, uint32(vout)), nil
}

// contributeCommand merges a signed copy into a pending PSBT.
type contributeCommand struct {
	cfg *config

	Signer string `long:"signer" description:"Id of the signer the copy comes from" required:"yes"`

	Args struct {
		Psbt string `positional-arg-name:"psbt"`
	} `positional-args:"yes" required:"yes"`
}

// Execute merges the copy and prints the resulting state. A complete PSBT
// is followed by its raw transaction.
func (c *contributeCommand) Execute(_ []string) error {
	packet, err := wallet.DecodePsbt(c.Args.Psbt)
	if err != nil {
		return err
	}

	manager, closeDB, err := c.cfg.psbtManager(nil)
	if err != nil {
		return err
	}
	defer closeDB()

	result, err := manager.Contribute(
		context.Background(), c.Signer, packet,
	)
	if err != nil {
		return err
	}

	if !result.NewSigner {
		log.Infof("Signer %s already contributed to %v", c.Signer,
			result.Record.Txid)
	}

	out := c.cfg.out
	fmt.Fprintf(out, "txid:    %v\n", result.Record.Txid)
	fmt.Fprintf(out, "state:   %v\n", result.Record.State)
	fmt.Fprintf(out, "signers: %s\n",
		strings.Join(result.Record.Signers(), ","))

	if !result.Finalized.Complete {
		return nil
	}

	return printTx(c.cfg, result.Finalized.Tx)
}

// pendingCommand lists the pending PSBTs.
type pendingCommand struct {
	cfg *config

	Psbt bool `long:"psbt" description:"Also print each PSBT in base64"`
}

// Execute prints one line per pending PSBT, oldest first.
func (c *pendingCommand) Execute(_ []string) error {
	manager, closeDB, err := c.cfg.psbtManager(nil)
	if err != nil {
		return err
	}
	defer closeDB()

	records, err := manager.List(context.Background())
	if err != nil {
		return err
	}

	for _, record := range records {
		fmt.Fprintf(c.cfg.out, "%v %v amount=%s fee=%s signers=%s "+
			"created=%s label=%q\n", record.Txid, record.State,
			btcunit.FormatBTC(record.Amount),
			btcunit.FormatBTC(record.Fee),
			strings.Join(record.Signers(), ","),
			record.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			record.Label)

		if c.Psbt {
			if err := printPsbt(c.cfg, record.Packet); err != nil {
				return err
			}
		}
	}

	return nil
}

// broadcastCommand publishes a complete PSBT.
type broadcastCommand struct {
	cfg *config

	Mark bool `long:"mark" description:"Only mark the PSBT as broadcast, it was published elsewhere"`

	Args struct {
		Txid string `positional-arg-name:"txid"`
	} `positional-args:"yes" required:"yes"`
}

// Execute broadcasts the transaction through the node, or only marks it
// as broadcast.
func (c *broadcastCommand) Execute(_ []string) error {
	txid, err := chainhash.NewHashFromStr(c.Args.Txid)
	if err != nil {
		return fmt.Errorf("invalid txid: %w", err)
	}

	var publisher wallet.TxPublisher
	if !c.Mark {
		client, err := c.cfg.chainClient()
		if err != nil {
			return err
		}
		publisher = client
	}

	manager, closeDB, err := c.cfg.psbtManager(publisher)
	if err != nil {
		return err
	}
	defer closeDB()

	ctx := context.Background()
	if c.Mark {
		return manager.MarkBroadcast(ctx, *txid)
	}

	published, err := manager.Broadcast(ctx, *txid)
	if err != nil {
		return err
	}

	fmt.Fprintln(c.cfg.out, published)

	return nil
}

// discardCommand forgets a pending PSBT.
type discardCommand struct {
	cfg *config

	Args struct {
		Txid string `positional-arg-name:"txid"`
	} `positional-args:"yes" required:"yes"`
}

// Execute discards the PSBT.
func (c *discardCommand) Execute(_ []string) error {
	txid, err := chainhash.NewHashFromStr(c.Args.Txid)
	if err != nil {
		return fmt.Errorf("invalid txid: %w", err)
	}

	manager, closeDB, err := c.cfg.psbtManager(nil)
	if err != nil {
		return err
	}
	defer closeDB()

	err = manager.Discard(context.Background(), *txid)
	if errors.Is(err, psbtdb.ErrPsbtNotFound) {
		return fmt.Errorf("no pending psbt %v", txid)
	}

	return err
}

// psbtManager opens the store and creates a manager on top of it.
func (c *config) psbtManager(publisher wallet.TxPublisher) (
	*wallet.PsbtManager, func(), error) {

	store, closeDB, err := c.openStore()
	if err != nil {
		return nil, nil, err
	}

	manager, err := wallet.NewPsbtManager(store, publisher, nil)
	if err != nil {
		closeDB()
		return nil, nil, err
	}

	return manager, closeDB, nil
}
