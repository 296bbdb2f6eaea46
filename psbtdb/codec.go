// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbtdb

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/tlv"
)

const (
	typeState         tlv.Type = 0
	typePacket        tlv.Type = 1
	typeFee           tlv.Type = 2
	typeAmount        tlv.Type = 3
	typeCreatedAt     tlv.Type = 4
	typeUpdatedAt     tlv.Type = 5
	typeDevicesSigned tlv.Type = 6
	typeLabel         tlv.Type = 7

	// MaxEncodedRecordSize bounds the size of a stored record. It leaves
	// ample room for a PSBT spending a full block worth of inputs.
	MaxEncodedRecordSize = 16 << 20
)

// EncodeRecord writes the record as a TLV stream. The txid is not part of
// the encoding since it is the storage key.
func EncodeRecord(w io.Writer, r *Record) error {
	packet, err := r.PacketBytes()
	if err != nil {
		return fmt.Errorf("serialize packet: %w", err)
	}

	var (
		state     = uint8(r.State)
		fee       = uint64(r.Fee)
		amount    = uint64(r.Amount)
		createdAt = uint64(r.CreatedAt.UnixNano())
		updatedAt = uint64(r.UpdatedAt.UnixNano())
		signers   = r.Signers()
		label     = []byte(r.Label)
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeState, &state),
		tlv.MakePrimitiveRecord(typePacket, &packet),
		tlv.MakePrimitiveRecord(typeFee, &fee),
		tlv.MakePrimitiveRecord(typeAmount, &amount),
		tlv.MakePrimitiveRecord(typeCreatedAt, &createdAt),
		tlv.MakePrimitiveRecord(typeUpdatedAt, &updatedAt),
		tlv.MakeDynamicRecord(
			typeDevicesSigned, &signers, signerListSize(signers),
			eSignerList, nil,
		),
		tlv.MakePrimitiveRecord(typeLabel, &label),
	)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// DecodeRecord reads a record written by EncodeRecord. The txid is
// recomputed from the unsigned transaction. Length prefixes are checked
// against the bytes actually available before anything is allocated.
func DecodeRecord(r io.Reader) (*Record, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxEncodedRecordSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxEncodedRecordSize {
		return nil, fmt.Errorf("%w: more than %d bytes",
			ErrCorruptRecord, MaxEncodedRecordSize)
	}

	src := bytes.NewReader(data)

	// bounded wraps a decoder so that a length larger than the rest of
	// the stream fails before the value is allocated.
	bounded := func(decode tlv.Decoder) tlv.Decoder {
		return func(r io.Reader, val interface{}, buf *[8]byte,
			l uint64) error {

			if l > uint64(src.Len()) {
				return fmt.Errorf("%w: length %d exceeds %d "+
					"remaining bytes", ErrCorruptRecord, l,
					src.Len())
			}

			return decode(r, val, buf, l)
		}
	}

	var (
		state     uint8
		packet    []byte
		fee       uint64
		amount    uint64
		createdAt uint64
		updatedAt uint64
		signers   []string
		label     []byte
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeState, &state),
		tlv.MakeDynamicRecord(
			typePacket, &packet, tlv.SizeVarBytes(&packet),
			tlv.EVarBytes, bounded(tlv.DVarBytes),
		),
		tlv.MakePrimitiveRecord(typeFee, &fee),
		tlv.MakePrimitiveRecord(typeAmount, &amount),
		tlv.MakePrimitiveRecord(typeCreatedAt, &createdAt),
		tlv.MakePrimitiveRecord(typeUpdatedAt, &updatedAt),
		tlv.MakeDynamicRecord(
			typeDevicesSigned, &signers, signerListSize(signers),
			nil, bounded(dSignerList),
		),
		tlv.MakeDynamicRecord(
			typeLabel, &label, tlv.SizeVarBytes(&label),
			tlv.EVarBytes, bounded(tlv.DVarBytes),
		),
	)
	if err != nil {
		return nil, err
	}

	if err := stream.Decode(src); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}

	return BuildRecord(RecordFields{
		State:     State(state),
		Packet:    packet,
		Fee:       btcutil.Amount(fee),
		Amount:    btcutil.Amount(amount),
		CreatedAt: time.Unix(0, int64(createdAt)),
		UpdatedAt: time.Unix(0, int64(updatedAt)),
		Signers:   signers,
		Label:     string(label),
	})
}

// RecordFields holds the stored columns of a record.
type RecordFields struct {
	State     State
	Packet    []byte
	Fee       btcutil.Amount
	Amount    btcutil.Amount
	CreatedAt time.Time
	UpdatedAt time.Time
	Signers   []string
	Label     string
}

// BuildRecord assembles a record from its stored fields.
func BuildRecord(f RecordFields) (*Record, error) {
	if !f.State.IsKnown() {
		return nil, fmt.Errorf("%w: %v", ErrUnknownState, f.State)
	}

	packet, err := psbt.NewFromRawBytes(bytes.NewReader(f.Packet), false)
	if err != nil {
		return nil, fmt.Errorf("parse packet: %w", err)
	}

	return &Record{
		Txid:          packet.UnsignedTx.TxHash(),
		Packet:        packet,
		State:         f.State,
		DevicesSigned: fn.NewSet(f.Signers...),
		Fee:           f.Fee,
		Amount:        f.Amount,
		Label:         f.Label,
		CreatedAt:     f.CreatedAt,
		UpdatedAt:     f.UpdatedAt,
	}, nil
}

// SortRecords orders records by creation time, then by txid.
func SortRecords(records []*Record) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}

		return bytes.Compare(a.Txid[:], b.Txid[:]) < 0
	})
}

// signerListSize returns the encoded size of a signer list.
func signerListSize(signers []string) tlv.SizeFunc {
	return func() uint64 {
		var total uint64
		for _, id := range signers {
			l := uint64(len(id))
			total += uint64(tlv.VarIntSize(l)) + l
		}

		return total
	}
}

// eSignerList encodes a list of signer ids as length prefixed strings.
func eSignerList(w io.Writer, val interface{}, buf *[8]byte) error {
	if t, ok := val.(*[]string); ok {
		for _, id := range *t {
			err := tlv.WriteVarInt(w, uint64(len(id)), buf)
			if err != nil {
				return err
			}
			if _, err := w.Write([]byte(id)); err != nil {
				return err
			}
		}

		return nil
	}

	return tlv.NewTypeForEncodingErr(val, "signerList")
}

// dSignerList decodes a list written by eSignerList.
func dSignerList(r io.Reader, val interface{}, buf *[8]byte,
	l uint64) error {

	if t, ok := val.(*[]string); ok {
		data := make([]byte, l)
		if _, err := io.ReadFull(r, data); err != nil {
			return err
		}

		reader := bytes.NewReader(data)

		var signers []string
		for reader.Len() > 0 {
			length, err := tlv.ReadVarInt(reader, buf)
			if err != nil {
				return err
			}
			if length > uint64(reader.Len()) {
				return tlv.NewTypeForDecodingErr(
					val, "signerList", l, length,
				)
			}

			id := make([]byte, length)
			if _, err := io.ReadFull(reader, id); err != nil {
				return err
			}
			signers = append(signers, string(id))
		}

		*t = signers

		return nil
	}

	return tlv.NewTypeForDecodingErr(val, "signerList", l, l)
}
