// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/cosigner/pkg/btcunit"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Recipient is a single payment of a spend request.
type Recipient struct {
	// Address is the destination of the payment.
	Address btcutil.Address

	// Amount is the value sent to Address before any fee subtraction.
	Amount btcutil.Amount
}

// SpendRequest describes a transaction the caller wants to build.
//
// The following example spends 0.1 BTC to addr and takes the fee from
// that payment:
//
//	req := &SpendRequest{
//		Recipients: []Recipient{{
//			Address: addr,
//			Amount:  btcutil.Amount(10_000_000),
//		}},
//		FeeRate:              btcunit.NewSatPerVByte(5),
//		SubtractFeeFromIndex: fn.Some(0),
//		ReplaceByFee:         true,
//	}
type SpendRequest struct {
	// Recipients lists the payments of the transaction. At least one is
	// required.
	Recipients []Recipient

	// FeeRate is the fee rate the transaction pays. It must be positive
	// and not above the builder's maximum fee rate.
	FeeRate btcunit.SatPerVByte

	// SubtractFeeFromIndex optionally names the recipient that pays the
	// fee. When it is unset, the fee is covered by additional inputs.
	SubtractFeeFromIndex fn.Option[int]

	// ReplaceByFee signals BIP 125 replaceability on every input.
	ReplaceByFee bool

	// SelectedCoins optionally pins the exact coins to spend. When it is
	// empty, coins are selected automatically.
	SelectedCoins []wire.OutPoint

	// ChangeIndex is the child index of the change descriptor used for
	// the change output, if one is needed.
	ChangeIndex uint32

	// Label is an optional, human-readable label stored with the PSBT.
	Label string
}

// TotalAmount returns the summed amount of all recipients.
func (r *SpendRequest) TotalAmount() btcutil.Amount {
	var total btcutil.Amount
	for _, recipient := range r.Recipients {
		total += recipient.Amount
	}

	return total
}

// outputs returns the recipients as wire outputs, in request order.
func (r *SpendRequest) outputs() ([]*wire.TxOut, error) {
	outputs := make([]*wire.TxOut, 0, len(r.Recipients))
	for _, recipient := range r.Recipients {
		pkScript, err := txscript.PayToAddrScript(recipient.Address)
		if err != nil {
			return nil, fmt.Errorf("recipient %v: %w",
				recipient.Address, err)
		}

		outputs = append(outputs, wire.NewTxOut(
			int64(recipient.Amount), pkScript,
		))
	}

	return outputs, nil
}

// validateSpendRequest performs the checks that do not need any external
// data:
//   - The request must have at least one recipient.
//   - Every recipient must pay a positive, non-dust amount to an address
//     of the wallet's network.
//   - The fee rate must be positive and not above maxFeeRate.
//   - A subtract fee index must point at a recipient.
//   - Selected coins must not contain duplicates.
func validateSpendRequest(req *SpendRequest, params *chaincfg.Params,
	maxFeeRate btcunit.SatPerVByte) error {

	if req == nil {
		return ErrNilSpendRequest
	}

	if len(req.Recipients) == 0 {
		return ErrNoTxOutputs
	}

	outputs, err := req.outputs()
	if err != nil {
		return err
	}

	for i, recipient := range req.Recipients {
		if recipient.Amount <= 0 {
			return fmt.Errorf("%w: recipient %d has amount %v",
				ErrInvalidAmount, i, recipient.Amount)
		}

		if !recipient.Address.IsForNet(params) {
			return fmt.Errorf("%w: %v is not a %s address",
				ErrAddressNetwork, recipient.Address,
				params.Name)
		}

		err := txrules.CheckOutput(
			outputs[i], txrules.DefaultRelayFeePerKb,
		)
		if err != nil {
			return fmt.Errorf("recipient %d: %w", i, err)
		}
	}

	if req.FeeRate.IsZero() {
		return ErrMissingFeeRate
	}

	// Ensure the fee rate is not "insane". This prevents users from
	// accidentally paying exorbitant fees.
	if req.FeeRate.GreaterThan(maxFeeRate) {
		return fmt.Errorf("%w: fee rate of %s is too high, max sane "+
			"fee rate is %s", ErrFeeRateTooLarge, req.FeeRate,
			maxFeeRate)
	}

	err = fn.MapOptionZ(req.SubtractFeeFromIndex, func(idx int) error {
		if idx < 0 || idx >= len(req.Recipients) {
			return fmt.Errorf("%w: %d not in [0, %d)",
				ErrSubtractFeeIndex, idx, len(req.Recipients))
		}

		return nil
	})
	if err != nil {
		return err
	}

	return validateOutPoints(req.SelectedCoins)
}

// validateOutPoints checks a list of outpoints for duplicates.
func validateOutPoints(outpoints []wire.OutPoint) error {
	seen := fn.NewSet[wire.OutPoint]()
	for _, op := range outpoints {
		if seen.Contains(op) {
			return fmt.Errorf("%w: %v", ErrDuplicatedUtxo, op)
		}
		seen.Add(op)
	}

	return nil
}
