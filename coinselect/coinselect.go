// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package coinselect selects the inputs that fund a transaction. Amounts are
// integer satoshis throughout.
package coinselect

import (
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
)

var (
	// ErrInsufficientFunds is returned when the available coins cannot
	// cover the requested amount.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrNegativeAmount is returned when a coin or a target has a negative
	// value.
	ErrNegativeAmount = errors.New("negative amount")
)

// Utxo is a read-only snapshot of a spendable output.
type Utxo struct {
	// OutPoint identifies the output.
	OutPoint wire.OutPoint

	// Amount is the value of the output.
	Amount btcutil.Amount

	// Confirmations is the number of confirmations of the output. Zero
	// means the output is unconfirmed.
	Confirmations int64

	// PkScript is the output script.
	PkScript []byte

	// PrevTx is the full transaction that created the output, if known.
	// Spending legacy outputs requires it.
	PrevTx *wire.MsgTx
}

// TxOut returns the output as a wire output.
func (u Utxo) TxOut() *wire.TxOut {
	return wire.NewTxOut(int64(u.Amount), u.PkScript)
}

// Total returns the summed amount of the coins.
func Total(coins []Utxo) btcutil.Amount {
	var total btcutil.Amount
	for _, c := range coins {
		total += c.Amount
	}

	return total
}

// Select returns the extra coins that need to be spent on top of a trusted
// balance to reach target. The candidates are taken in the given order and
// selection stops as soon as the deficit is covered, so the result is empty
// whenever the trusted balance already suffices. ErrInsufficientFunds is
// returned if all candidates together cannot cover the deficit.
func Select(trusted, target btcutil.Amount, candidates []Utxo) ([]Utxo,
	error) {

	if trusted < 0 || target < 0 {
		return nil, fmt.Errorf("%w: trusted=%v, target=%v",
			ErrNegativeAmount, trusted, target)
	}

	var available btcutil.Amount
	for _, c := range candidates {
		if c.Amount < 0 {
			return nil, fmt.Errorf("%w: utxo %v has value %v",
				ErrNegativeAmount, c.OutPoint, c.Amount)
		}
		available += c.Amount
	}

	if target > trusted+available {
		return nil, fmt.Errorf("%w: target=%v, available=%v",
			ErrInsufficientFunds, target, trusted+available)
	}

	deficit := target - trusted
	selected := make([]Utxo, 0, len(candidates))
	for _, c := range candidates {
		if deficit <= 0 {
			break
		}

		// Empty outputs never reduce the deficit.
		if c.Amount == 0 {
			continue
		}

		selected = append(selected, c)
		deficit -= c.Amount
	}

	log.Debugf("Selected %d extra coins worth %v for target=%v, "+
		"trusted=%v", len(selected), Total(selected), target, trusted)

	return selected, nil
}

// Strategy orders the coins that are offered to the transaction author.
type Strategy interface {
	// ArrangeCoins returns the coins in the order they should be spent.
	ArrangeCoins(coins []Utxo) []Utxo
}

var (
	// ProviderOrder spends coins in the order the provider returned them.
	ProviderOrder Strategy = providerOrder{}

	// LargestFirst always spends the largest remaining coin next.
	LargestFirst Strategy = largestFirst{}
)

type providerOrder struct{}

// ArrangeCoins returns a copy of the coins in their original order.
func (providerOrder) ArrangeCoins(coins []Utxo) []Utxo {
	return append([]Utxo(nil), coins...)
}

type largestFirst struct{}

// ArrangeCoins returns a copy of the coins sorted by descending amount. Ties
// keep their original order.
func (largestFirst) ArrangeCoins(coins []Utxo) []Utxo {
	arranged := append([]Utxo(nil), coins...)
	sort.SliceStable(arranged, func(i, j int) bool {
		return arranged[i].Amount > arranged[j].Amount
	})

	return arranged
}

// InputSource returns a txauthor.InputSource that adds coins in order until
// the requested target is reached. The returned source keeps the coins it
// already handed out across calls, so a fresh source is needed for every
// transaction.
func InputSource(coins []Utxo) txauthor.InputSource {
	eligible := append([]Utxo(nil), coins...)

	// Current inputs and their total value. These are closed over by the
	// returned input source and reused across multiple calls.
	currentTotal := btcutil.Amount(0)
	currentInputs := make([]*wire.TxIn, 0, len(eligible))
	currentScripts := make([][]byte, 0, len(eligible))
	currentInputValues := make([]btcutil.Amount, 0, len(eligible))

	return func(target btcutil.Amount) (btcutil.Amount, []*wire.TxIn,
		[]btcutil.Amount, [][]byte, error) {

		for currentTotal < target && len(eligible) != 0 {
			next := eligible[0]
			eligible = eligible[1:]

			outpoint := next.OutPoint
			currentTotal += next.Amount
			currentInputs = append(
				currentInputs, wire.NewTxIn(&outpoint, nil, nil),
			)
			currentScripts = append(currentScripts, next.PkScript)
			currentInputValues = append(
				currentInputValues, next.Amount,
			)
		}

		return currentTotal, currentInputs, currentInputValues,
			currentScripts, nil
	}
}

// ConstantInputSource returns a txauthor.InputSource that always returns all
// of the given coins, regardless of the target.
func ConstantInputSource(coins []Utxo) txauthor.InputSource {
	// These won't change over different invocations as the inputs are
	// chosen by the caller.
	currentTotal := btcutil.Amount(0)
	currentInputs := make([]*wire.TxIn, 0, len(coins))
	currentScripts := make([][]byte, 0, len(coins))
	currentInputValues := make([]btcutil.Amount, 0, len(coins))

	for _, coin := range coins {
		outpoint := coin.OutPoint
		currentTotal += coin.Amount

		currentInputs = append(
			currentInputs, wire.NewTxIn(&outpoint, nil, nil),
		)
		currentScripts = append(currentScripts, coin.PkScript)
		currentInputValues = append(currentInputValues, coin.Amount)
	}

	return func(target btcutil.Amount) (btcutil.Amount, []*wire.TxIn,
		[]btcutil.Amount, [][]byte, error) {

		return currentTotal, currentInputs, currentInputValues,
			currentScripts, nil
	}
}
