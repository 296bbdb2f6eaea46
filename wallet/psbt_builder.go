// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
	"github.com/btcsuite/cosigner/coinselect"
	"github.com/btcsuite/cosigner/descriptor"
	"github.com/btcsuite/cosigner/pkg/btcunit"
	"github.com/btcsuite/cosigner/psbtdb"
	"github.com/lightningnetwork/lnd/clock"
)

const (
	// DefaultLookaheadWindow is the number of child indices scanned per
	// descriptor when matching coins to their derivation.
	DefaultLookaheadWindow = 1000

	// DefaultMaxConfs is the upper confirmation bound used when listing
	// confirmed coins.
	DefaultMaxConfs = 9999999

	// maxAuthorAttempts bounds the rounds spent settling the fee.
	maxAuthorAttempts = 16

	// sequenceRBF signals BIP 125 replaceability.
	sequenceRBF = wire.MaxTxInSequenceNum - 2

	// sequenceFinal disables replaceability while still enabling the
	// lock time.
	sequenceFinal = wire.MaxTxInSequenceNum - 1
)

// changePlaceholder is the change script handed to the transaction author,
// which only accepts change scripts up to the size of a P2WPKH output. The
// real change script is swapped in afterwards.
var changePlaceholder = append(
	[]byte{0x00, 0x14}, make([]byte, 20)...,
)

// BuilderConfig holds the dependencies and settings of a PsbtBuilder.
type BuilderConfig struct {
	// Receive is the descriptor of the wallet's receive chain.
	Receive *descriptor.Descriptor

	// Change is the descriptor of the wallet's change chain. It must be
	// of the same script type as Receive.
	Change *descriptor.Descriptor

	// Oracle derives the change address. Its answer must match the local
	// derivation of the change descriptor.
	Oracle AddressDerivationOracle

	// Utxos lists the spendable coins of the wallet.
	Utxos UtxoProvider

	// Store persists the PSBTs returned by Create.
	Store psbtdb.Store

	// Strategy orders the confirmed coins before they are spent. It
	// defaults to the provider order.
	Strategy coinselect.Strategy

	// LookaheadWindow is the number of child indices scanned per
	// descriptor. It defaults to DefaultLookaheadWindow.
	LookaheadWindow uint32

	// MaxFeeRate is the highest fee rate accepted in a spend request. It
	// defaults to DefaultMaxFeeRate.
	MaxFeeRate btcunit.SatPerVByte

	// Clock stamps the created records. It defaults to the system clock.
	Clock clock.Clock
}

// PsbtBuilder turns spend requests into unsigned PSBTs for the wallet
// described by its descriptors. The builder holds no mutable state, so its
// methods are safe for concurrent use as long as its dependencies are.
type PsbtBuilder struct {
	cfg BuilderConfig
}

// NewPsbtBuilder validates cfg and creates a builder from it.
func NewPsbtBuilder(cfg BuilderConfig) (*PsbtBuilder, error) {
	if cfg.Receive == nil || cfg.Change == nil {
		return nil, ErrMissingDescriptor
	}

	if cfg.Receive.ScriptType() != cfg.Change.ScriptType() {
		return nil, fmt.Errorf("%w: receive is %v, change is %v",
			descriptor.ErrUnsupported, cfg.Receive.ScriptType(),
			cfg.Change.ScriptType())
	}

	switch {
	case cfg.Oracle == nil:
		return nil, fmt.Errorf("%w: address derivation oracle",
			ErrMissingDependency)

	case cfg.Utxos == nil:
		return nil, fmt.Errorf("%w: utxo provider",
			ErrMissingDependency)

	case cfg.Store == nil:
		return nil, fmt.Errorf("%w: psbt store", ErrMissingDependency)
	}

	if cfg.Strategy == nil {
		cfg.Strategy = coinselect.ProviderOrder
	}
	if cfg.LookaheadWindow == 0 {
		cfg.LookaheadWindow = DefaultLookaheadWindow
	}
	if cfg.MaxFeeRate.IsZero() {
		cfg.MaxFeeRate = DefaultMaxFeeRate
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	return &PsbtBuilder{cfg: cfg}, nil
}

// Estimate builds the PSBT for req without persisting it. The returned
// record is a draft and the call has no side effects, so it can be used to
// preview the fee of a spend.
func (b *PsbtBuilder) Estimate(ctx context.Context,
	req *SpendRequest) (*psbtdb.Record, error) {

	return b.build(ctx, req)
}

// Create builds the PSBT for req and persists it, keyed by its txid, as
// awaiting signatures.
func (b *PsbtBuilder) Create(ctx context.Context,
	req *SpendRequest) (*psbtdb.Record, error) {

	record, err := b.build(ctx, req)
	if err != nil {
		return nil, err
	}

	err = record.Transition(
		psbtdb.StateAwaitingSignatures, b.cfg.Clock.Now(),
	)
	if err != nil {
		return nil, err
	}

	if err := b.cfg.Store.SavePsbt(ctx, record); err != nil {
		return nil, fmt.Errorf("save psbt %v: %w", record.Txid, err)
	}

	log.Debugf("Created PSBT %v spending %v with fee %v", record.Txid,
		record.Amount, record.Fee)

	return record, nil
}

// build creates the draft record for req.
func (b *PsbtBuilder) build(ctx context.Context,
	req *SpendRequest) (*psbtdb.Record, error) {

	err := validateSpendRequest(
		req, b.cfg.Receive.Params(), b.cfg.MaxFeeRate,
	)
	if err != nil {
		return nil, err
	}

	pool, err := b.fetchCoins(ctx, req.SelectedCoins)
	if err != nil {
		return nil, err
	}

	// Make sure the recipients can be paid at all before authoring. The
	// check uses the amounts before any fee subtraction.
	available := pool.total()
	if req.TotalAmount() > available {
		return nil, fmt.Errorf("%w: need %v, have %v",
			coinselect.ErrInsufficientFunds, req.TotalAmount(),
			available)
	}

	change, err := b.changeDerivation(ctx, req.ChangeIndex)
	if err != nil {
		return nil, err
	}

	outputs, err := req.outputs()
	if err != nil {
		return nil, err
	}

	var authored *txauthor.AuthoredTx
	subtractIdx := req.SubtractFeeFromIndex.UnwrapOr(-1)
	if subtractIdx >= 0 {
		authored, err = b.authorSubtractFee(
			outputs, req.FeeRate, pool, change.PkScript,
			subtractIdx,
		)
	} else {
		authored, err = b.authorTx(
			outputs, req.FeeRate, pool, change.PkScript,
		)
	}
	if err != nil {
		return nil, err
	}

	// Sorting the packet moves the change output, so the amounts are
	// taken first.
	tx := authored.Tx
	fee := authored.TotalInput - btcutil.Amount(sumOutputs(tx.TxOut))
	amount := btcutil.Amount(sumOutputs(tx.TxOut))
	if authored.ChangeIndex >= 0 {
		amount -= btcutil.Amount(tx.TxOut[authored.ChangeIndex].Value)
	}

	packet, err := b.createPacket(authored, pool, change, req.ReplaceByFee)
	if err != nil {
		return nil, err
	}

	log.Debugf("Built PSBT with %d inputs, %d outputs, fee %v at %v",
		len(tx.TxIn), len(tx.TxOut), fee, req.FeeRate)

	return psbtdb.NewRecord(
		packet, fee, amount, req.Label, b.cfg.Clock.Now(),
	)
}

// coinPool holds the coins a spend may draw from.
type coinPool struct {
	// confirmed are the trusted coins, in spending order.
	confirmed []coinselect.Utxo

	// unconfirmed are the zero-conf fallback coins, in provider order.
	unconfirmed []coinselect.Utxo

	// pinned is set when the caller selected the coins. All of them are
	// spent and nothing else is added.
	pinned bool
}

// total returns the value of every coin in the pool.
func (p *coinPool) total() btcutil.Amount {
	return coinselect.Total(p.confirmed) + coinselect.Total(p.unconfirmed)
}

// all returns every coin in the pool.
func (p *coinPool) all() []coinselect.Utxo {
	coins := make([]coinselect.Utxo, 0, len(p.confirmed)+len(p.unconfirmed))
	coins = append(coins, p.confirmed...)

	return append(coins, p.unconfirmed...)
}

// source returns a fresh input source able to cover target. Unconfirmed
// coins are only added when the confirmed ones fall short.
func (p *coinPool) source(target btcutil.Amount) (txauthor.InputSource,
	error) {

	if p.pinned {
		return coinselect.ConstantInputSource(p.confirmed), nil
	}

	extras, err := coinselect.Select(
		coinselect.Total(p.confirmed), target, p.unconfirmed,
	)
	if err != nil {
		return nil, err
	}

	coins := make([]coinselect.Utxo, 0, len(p.confirmed)+len(extras))
	coins = append(coins, p.confirmed...)
	coins = append(coins, extras...)

	return coinselect.InputSource(coins), nil
}

// fetchCoins builds the coin pool from the utxo provider. When coins are
// selected explicitly, exactly those are used.
func (b *PsbtBuilder) fetchCoins(ctx context.Context,
	selected []wire.OutPoint) (*coinPool, error) {

	if len(selected) > 0 {
		coins, err := b.cfg.Utxos.ListUtxos(ctx, 0, DefaultMaxConfs)
		if err != nil {
			return nil, fmt.Errorf("list utxos: %w", err)
		}

		byOutPoint := make(map[wire.OutPoint]coinselect.Utxo, len(coins))
		for _, coin := range coins {
			byOutPoint[coin.OutPoint] = coin
		}

		pinned := make([]coinselect.Utxo, 0, len(selected))
		for _, op := range selected {
			coin, ok := byOutPoint[op]
			if !ok {
				return nil, fmt.Errorf("%w: %v", ErrUtxoNotFound,
					op)
			}
			pinned = append(pinned, coin)
		}

		return &coinPool{confirmed: pinned, pinned: true}, nil
	}

	confirmed, err := b.cfg.Utxos.ListUtxos(ctx, 1, DefaultMaxConfs)
	if err != nil {
		return nil, fmt.Errorf("list confirmed utxos: %w", err)
	}

	unconfirmed, err := b.cfg.Utxos.ListUtxos(ctx, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("list unconfirmed utxos: %w", err)
	}

	log.Tracef("Found %d confirmed and %d unconfirmed coins",
		len(confirmed), len(unconfirmed))

	return &coinPool{
		confirmed:   b.cfg.Strategy.ArrangeCoins(confirmed),
		unconfirmed: unconfirmed,
	}, nil
}

// changeDerivation derives the change output at index and checks it
// against the address derivation oracle.
func (b *PsbtBuilder) changeDerivation(ctx context.Context,
	index uint32) (*descriptor.Derivation, error) {

	derivation, err := b.cfg.Change.Derive(index)
	if err != nil {
		return nil, fmt.Errorf("derive change: %w", err)
	}

	addrs, err := b.cfg.Oracle.DeriveAddresses(
		ctx, b.cfg.Change, index, index,
	)
	if err != nil {
		return nil, fmt.Errorf("derive change address: %w", err)
	}

	if len(addrs) != 1 ||
		addrs[0].EncodeAddress() != derivation.Address.EncodeAddress() {

		return nil, fmt.Errorf("%w: change index %d, local %v, "+
			"oracle %v", ErrDerivationMismatch, index,
			derivation.Address, addrs)
	}

	return derivation, nil
}

// authorTx authors a transaction paying outputs and funds the fee from
// additional inputs. The transaction author only picks the inputs and the
// change at a zero fee rate, as its size estimate does not know script hash
// inputs. Every round settles the fee against the real input weight and
// retries with a larger target while it falls short.
func (b *PsbtBuilder) authorTx(outputs []*wire.TxOut,
	rate btcunit.SatPerVByte, pool *coinPool,
	changeScript []byte) (*txauthor.AuthoredTx, error) {

	target := btcutil.Amount(sumOutputs(outputs))

	var pad btcutil.Amount
	for attempt := 0; attempt < maxAuthorAttempts; attempt++ {
		source, err := pool.source(target + pad)
		if err != nil {
			return nil, err
		}

		authored, err := newUnsignedTx(
			outputs, padInputSource(source, pad), changeScript,
			pool.total(),
		)
		if err != nil {
			return nil, err
		}

		shortfall := b.settleFee(authored, rate)
		if shortfall == 0 {
			return authored, nil
		}

		if pool.pinned {
			return nil, insufficientFunds(
				authored.TotalInput+shortfall, pool.total(),
			)
		}

		log.Tracef("Fee short by %v after round %d", shortfall, attempt)

		pad += shortfall
	}

	return nil, ErrFeeNotConverged
}

// authorSubtractFee authors a transaction paying outputs where the output
// of recipient idx pays the fee.
func (b *PsbtBuilder) authorSubtractFee(outputs []*wire.TxOut,
	rate btcunit.SatPerVByte, pool *coinPool, changeScript []byte,
	idx int) (*txauthor.AuthoredTx, error) {

	target := btcutil.Amount(sumOutputs(outputs))
	source, err := pool.source(target)
	if err != nil {
		return nil, err
	}

	// The inputs only need to cover the recipients.
	authored, err := newUnsignedTx(
		outputs, source, changeScript, pool.total(),
	)
	if err != nil {
		return nil, err
	}

	tx := authored.Tx
	outIdx := locateRecipient(
		tx, outputs, idx, authored.ChangeIndex,
	)
	if outIdx < 0 {
		return nil, fmt.Errorf("%w: recipient %d not in tx",
			ErrSubtractFeeIndex, idx)
	}

	// Any value the author left over, such as dropped dust change,
	// already counts towards the fee.
	required := rate.FeeForWeight(b.txWeight(tx))
	leftover := authored.TotalInput - btcutil.Amount(sumOutputs(tx.TxOut))

	recipient := tx.TxOut[outIdx]
	if required > leftover {
		recipient.Value -= int64(required - leftover)
	}

	if recipient.Value <= 0 ||
		txrules.IsDustOutput(recipient, txrules.DefaultRelayFeePerKb) {

		return nil, fmt.Errorf("%w: fee %v leaves %v for recipient %d",
			ErrFeeExceedsAmount, required,
			btcutil.Amount(recipient.Value), idx)
	}

	return authored, nil
}

// locateRecipient returns the index in tx of the output paying recipient
// idx. Outputs are matched by script, counting earlier recipients paying
// the same script so duplicates resolve to distinct outputs.
func locateRecipient(tx *wire.MsgTx, outputs []*wire.TxOut, idx,
	changeIndex int) int {

	script := outputs[idx].PkScript

	skip := 0
	for i := 0; i < idx; i++ {
		if bytes.Equal(outputs[i].PkScript, script) {
			skip++
		}
	}

	for i, out := range tx.TxOut {
		if i == changeIndex || !bytes.Equal(out.PkScript, script) {
			continue
		}

		if skip == 0 {
			return i
		}
		skip--
	}

	return -1
}

// settleFee adjusts the change of an authored transaction to the fee of
// its real weight. A change output that becomes dust is dropped. The
// returned amount is the fee still missing, zero once the transaction pays
// at least the fee rate.
func (b *PsbtBuilder) settleFee(authored *txauthor.AuthoredTx,
	rate btcunit.SatPerVByte) btcutil.Amount {

	tx := authored.Tx
	required := rate.FeeForWeight(b.txWeight(tx))
	paid := authored.TotalInput - btcutil.Amount(sumOutputs(tx.TxOut))

	if authored.ChangeIndex >= 0 {
		idx := authored.ChangeIndex
		change := tx.TxOut[idx]
		change.Value += int64(paid - required)

		if change.Value > 0 && !txrules.IsDustOutput(
			change, txrules.DefaultRelayFeePerKb,
		) {

			return 0
		}

		log.Tracef("Dropping dust change of %v",
			btcutil.Amount(change.Value))

		tx.TxOut = append(tx.TxOut[:idx], tx.TxOut[idx+1:]...)
		authored.ChangeIndex = -1

		required = rate.FeeForWeight(b.txWeight(tx))
		paid = authored.TotalInput -
			btcutil.Amount(sumOutputs(tx.TxOut))
	}

	if paid >= required {
		return 0
	}

	return required - paid
}

// inputWeight returns the weight of a fully signed wallet input.
func (b *PsbtBuilder) inputWeight() btcunit.WeightUnit {
	receive := b.cfg.Receive.InputWeight()
	change := b.cfg.Change.InputWeight()
	if change.Uint64() > receive.Uint64() {
		return change
	}

	return receive
}

// txWeight returns the weight tx will have once every input is signed.
func (b *PsbtBuilder) txWeight(tx *wire.MsgTx) btcunit.WeightUnit {
	// Version and lock time.
	base := 8
	base += wire.VarIntSerializeSize(uint64(len(tx.TxIn)))
	base += wire.VarIntSerializeSize(uint64(len(tx.TxOut)))
	for _, out := range tx.TxOut {
		base += out.SerializeSize()
	}

	weight := uint64(base*blockchain.WitnessScaleFactor) +
		uint64(len(tx.TxIn))*b.inputWeight().Uint64()

	// The segwit marker and flag bytes.
	if b.cfg.Receive.ScriptType().IsWitness() {
		weight += 2
	}

	return btcunit.NewWeightUnit(weight)
}

// createPacket turns the authored transaction into a decorated, BIP 69
// sorted PSBT.
func (b *PsbtBuilder) createPacket(authored *txauthor.AuthoredTx,
	pool *coinPool, change *descriptor.Derivation,
	replaceable bool) (*psbt.Packet, error) {

	tx := authored.Tx
	tx.Version = 2

	sequence := uint32(sequenceFinal)
	if replaceable {
		sequence = sequenceRBF
	}
	for _, in := range tx.TxIn {
		in.Sequence = sequence
	}

	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, fmt.Errorf("create psbt: %w", err)
	}

	coins := make(map[wire.OutPoint]coinselect.Utxo, len(tx.TxIn))
	for _, coin := range pool.all() {
		coins[coin.OutPoint] = coin
	}

	spent := make([]coinselect.Utxo, 0, len(tx.TxIn))
	for _, in := range tx.TxIn {
		spent = append(spent, coins[in.PreviousOutPoint])
	}

	index, err := indexScripts(
		[]*descriptor.Descriptor{b.cfg.Receive, b.cfg.Change},
		b.cfg.LookaheadWindow, spent,
	)
	if err != nil {
		return nil, err
	}

	for i, coin := range spent {
		derivation := index[string(coin.PkScript)]
		err := addInputInfo(&packet.Inputs[i], coin, derivation)
		if err != nil {
			return nil, err
		}
	}

	if authored.ChangeIndex >= 0 {
		packet.Outputs[authored.ChangeIndex] = *createOutputInfo(change)
	}

	if err := psbt.InPlaceSort(packet); err != nil {
		return nil, fmt.Errorf("sort psbt: %w", err)
	}

	return packet, nil
}

// newUnsignedTx runs the transaction author at a zero fee rate over a copy
// of outputs and swaps the real change script into the result. available
// is only used to describe a shortage.
func newUnsignedTx(outputs []*wire.TxOut, source txauthor.InputSource,
	changeScript []byte,
	available btcutil.Amount) (*txauthor.AuthoredTx, error) {

	changeSource := &txauthor.ChangeSource{
		ScriptSize: txsizes.P2WPKHPkScriptSize,
		NewScript: func() ([]byte, error) {
			return changePlaceholder, nil
		},
	}

	authored, err := txauthor.NewUnsignedTransaction(
		cloneOutputs(outputs), 0, source, changeSource,
	)

	var sourceErr txauthor.InputSourceError
	switch {
	case errors.As(err, &sourceErr):
		return nil, insufficientFunds(
			btcutil.Amount(sumOutputs(outputs)), available,
		)

	case err != nil:
		return nil, err
	}

	if authored.ChangeIndex >= 0 {
		change := authored.Tx.TxOut[authored.ChangeIndex]
		change.PkScript = append([]byte(nil), changeScript...)
	}

	return authored, nil
}

// padInputSource wraps source so that every request asks for pad more.
func padInputSource(source txauthor.InputSource,
	pad btcutil.Amount) txauthor.InputSource {

	if pad == 0 {
		return source
	}

	return func(target btcutil.Amount) (btcutil.Amount, []*wire.TxIn,
		[]btcutil.Amount, [][]byte, error) {

		return source(target + pad)
	}
}

// cloneOutputs returns a deep copy of the outputs.
func cloneOutputs(outputs []*wire.TxOut) []*wire.TxOut {
	cloned := make([]*wire.TxOut, 0, len(outputs))
	for _, out := range outputs {
		cloned = append(cloned, wire.NewTxOut(
			out.Value, append([]byte(nil), out.PkScript...),
		))
	}

	return cloned
}

// insufficientFunds wraps coinselect.ErrInsufficientFunds with the amounts
// involved.
func insufficientFunds(need, have btcutil.Amount) error {
	return fmt.Errorf("%w: need %v, have %v",
		coinselect.ErrInsufficientFunds, need, have)
}
