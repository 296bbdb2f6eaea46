// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/cosigner/coinselect"
	"github.com/btcsuite/cosigner/descriptor"
	"github.com/btcsuite/cosigner/pkg/btcunit"
	"github.com/btcsuite/cosigner/psbtdb"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	errUtxo      = errors.New("utxo fail")
	errOracle    = errors.New("oracle fail")
	errBroadcast = errors.New("broadcast fail")
	errStore     = errors.New("store fail")
)

var (
	// chainParams are the chain parameters used throughout the wallet
	// tests.
	chainParams = chaincfg.TestNet3Params

	// hardened is the offset of hardened child indices.
	hardened = uint32(hdkeychain.HardenedKeyStart)

	// accountPath is the BIP 48 P2WSH account path of the test signers.
	accountPath = []uint32{48 + hardened, 1 + hardened, hardened,
		2 + hardened}
)

// testSigner is a cosigner holding the private account key of one key of
// the test wallet.
type testSigner struct {
	id          string
	fingerprint uint32
	fpHex       string
	account     *hdkeychain.ExtendedKey
}

// newTestSigner creates a signer from a deterministic seed.
func newTestSigner(t *testing.T, id string, seedByte byte) *testSigner {
	t.Helper()

	seed := bytes.Repeat([]byte{seedByte}, hdkeychain.RecommendedSeedLen)
	master, err := hdkeychain.NewMaster(seed, &chainParams)
	require.NoError(t, err)

	masterPub, err := master.ECPubKey()
	require.NoError(t, err)
	fp := btcutil.Hash160(masterPub.SerializeCompressed())[:4]

	account := master
	for _, child := range accountPath {
		account, err = account.Derive(child)
		require.NoError(t, err)
	}

	return &testSigner{
		id:          id,
		fingerprint: binary.LittleEndian.Uint32(fp),
		fpHex:       hex.EncodeToString(fp),
		account:     account,
	}
}

// keyExpr returns the key expression of the signer for the given branch.
func (s *testSigner) keyExpr(t *testing.T, branch uint32) string {
	t.Helper()

	accountPub, err := s.account.Neuter()
	require.NoError(t, err)

	return fmt.Sprintf("[%s/48h/1h/0h/2h]%s/%d/*", s.fpHex,
		accountPub.String(), branch)
}

// privKey returns the private key at path below the signer's master key.
// The path must start with the account path.
func (s *testSigner) privKey(t *testing.T,
	path []uint32) *btcec.PrivateKey {

	t.Helper()

	require.Greater(t, len(path), len(accountPath))

	key := s.account
	var err error
	for _, child := range path[len(accountPath):] {
		key, err = key.Derive(child)
		require.NoError(t, err)
	}

	priv, err := key.ECPrivKey()
	require.NoError(t, err)

	return priv
}

// sign returns a copy of packet carrying the signer's signature on every
// input it has a key for.
func (s *testSigner) sign(t *testing.T, packet *psbt.Packet) *psbt.Packet {
	t.Helper()

	signed, err := copyPacket(packet)
	require.NoError(t, err)

	fetcher := PsbtPrevOutputFetcher(signed)
	sigHashes := txscript.NewTxSigHashes(signed.UnsignedTx, fetcher)

	for i := range signed.Inputs {
		in := &signed.Inputs[i]
		for _, derivation := range in.Bip32Derivation {
			if derivation.MasterKeyFingerprint != s.fingerprint {
				continue
			}

			priv := s.privKey(t, derivation.Bip32Path)
			sig, err := txscript.RawTxInWitnessSignature(
				signed.UnsignedTx, sigHashes, i,
				in.WitnessUtxo.Value, in.WitnessScript,
				txscript.SigHashAll, priv,
			)
			require.NoError(t, err)

			in.PartialSigs = append(in.PartialSigs,
				&psbt.PartialSig{
					PubKey:    derivation.PubKey,
					Signature: sig,
				},
			)
		}
	}

	return signed
}

// testWallet is a 2-of-3 P2WSH multisig wallet with its signers.
type testWallet struct {
	signers []*testSigner
	receive *descriptor.Descriptor
	change  *descriptor.Descriptor
}

// newTestWallet creates the 2-of-3 test wallet.
func newTestWallet(t *testing.T) *testWallet {
	t.Helper()

	signers := []*testSigner{
		newTestSigner(t, "coldcard", 1),
		newTestSigner(t, "trezor", 2),
		newTestSigner(t, "jade", 3),
	}

	branch := func(b uint32) *descriptor.Descriptor {
		keys := make([]string, 0, len(signers))
		for _, s := range signers {
			keys = append(keys, s.keyExpr(t, b))
		}

		desc, err := descriptor.Parse(
			"wsh(sortedmulti(2,"+strings.Join(keys, ",")+"))",
			&chainParams,
		)
		require.NoError(t, err)

		return desc
	}

	return &testWallet{
		signers: signers,
		receive: branch(0),
		change:  branch(1),
	}
}

// coin creates a coin of amount paying to the receive address at index.
// Every coin is created by its own previous transaction.
func (w *testWallet) coin(t *testing.T, index uint32, amount btcutil.Amount,
	confs int64) coinselect.Utxo {

	t.Helper()

	derivation, err := w.receive.Derive(index)
	require.NoError(t, err)

	prevTx := wire.NewMsgTx(2)
	prevTx.AddTxIn(wire.NewTxIn(&wire.OutPoint{
		Hash:  chainhash.Hash{byte(index), byte(amount), byte(confs)},
		Index: index,
	}, nil, nil))
	prevTx.AddTxOut(wire.NewTxOut(int64(amount), derivation.PkScript))

	return coinselect.Utxo{
		OutPoint: wire.OutPoint{
			Hash:  prevTx.TxHash(),
			Index: 0,
		},
		Amount:        amount,
		Confirmations: confs,
		PkScript:      derivation.PkScript,
		PrevTx:        prevTx,
	}
}

// externalAddress returns a P2WPKH address outside of the wallet.
func externalAddress(t *testing.T, params *chaincfg.Params,
	seed byte) btcutil.Address {

	t.Helper()

	priv, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{seed}, 32))
	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(priv.PubKey().SerializeCompressed()), params,
	)
	require.NoError(t, err)

	return addr
}

// mockUtxoProvider is a mock implementation of the UtxoProvider interface.
type mockUtxoProvider struct {
	mock.Mock
}

// A compile-time assertion to ensure that mockUtxoProvider implements the
// UtxoProvider interface.
var _ UtxoProvider = (*mockUtxoProvider)(nil)

func (m *mockUtxoProvider) ListUtxos(ctx context.Context, minConf,
	maxConf int64) ([]coinselect.Utxo, error) {

	args := m.Called(ctx, minConf, maxConf)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]coinselect.Utxo), args.Error(1)
}

// mockOracle is a mock implementation of the AddressDerivationOracle
// interface.
type mockOracle struct {
	mock.Mock
}

// A compile-time assertion to ensure that mockOracle implements the
// AddressDerivationOracle interface.
var _ AddressDerivationOracle = (*mockOracle)(nil)

func (m *mockOracle) DeriveAddresses(ctx context.Context,
	desc *descriptor.Descriptor, start,
	end uint32) ([]btcutil.Address, error) {

	args := m.Called(ctx, desc, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]btcutil.Address), args.Error(1)
}

// mockStore is a mock implementation of the psbtdb.Store interface.
type mockStore struct {
	mock.Mock
}

// A compile-time assertion to ensure that mockStore implements the
// psbtdb.Store interface.
var _ psbtdb.Store = (*mockStore)(nil)

func (m *mockStore) SavePsbt(ctx context.Context,
	record *psbtdb.Record) error {

	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *mockStore) LoadPsbt(ctx context.Context,
	txid chainhash.Hash) (*psbtdb.Record, error) {

	args := m.Called(ctx, txid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*psbtdb.Record), args.Error(1)
}

func (m *mockStore) DeletePsbt(ctx context.Context,
	txid chainhash.Hash) error {

	args := m.Called(ctx, txid)
	return args.Error(0)
}

func (m *mockStore) ListPsbts(ctx context.Context) ([]*psbtdb.Record,
	error) {

	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*psbtdb.Record), args.Error(1)
}

// mockPublisher is a mock implementation of the TxPublisher interface.
type mockPublisher struct {
	mock.Mock
}

// A compile-time assertion to ensure that mockPublisher implements the
// TxPublisher interface.
var _ TxPublisher = (*mockPublisher)(nil)

func (m *mockPublisher) Broadcast(ctx context.Context,
	tx *wire.MsgTx) (*chainhash.Hash, error) {

	args := m.Called(ctx, tx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*chainhash.Hash), args.Error(1)
}

// builderMocks holds the mocked dependencies of a PsbtBuilder.
type builderMocks struct {
	utxos  *mockUtxoProvider
	oracle *mockOracle
	store  *mockStore
}

// newTestBuilder creates a builder for w with mocked dependencies. The
// oracle answers with the local derivation unless a test overrides it.
func newTestBuilder(t *testing.T, w *testWallet) (*PsbtBuilder,
	*builderMocks) {

	t.Helper()

	mocks := &builderMocks{
		utxos:  &mockUtxoProvider{},
		oracle: &mockOracle{},
		store:  &mockStore{},
	}

	builder, err := NewPsbtBuilder(BuilderConfig{
		Receive:         w.receive,
		Change:          w.change,
		Oracle:          mocks.oracle,
		Utxos:           mocks.utxos,
		Store:           mocks.store,
		LookaheadWindow: 20,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		mocks.utxos.AssertExpectations(t)
		mocks.oracle.AssertExpectations(t)
		mocks.store.AssertExpectations(t)
	})

	return builder, mocks
}

// expectChange makes the oracle confirm the change address at index.
func (m *builderMocks) expectChange(t *testing.T, w *testWallet,
	index uint32) {

	t.Helper()

	derivation, err := w.change.Derive(index)
	require.NoError(t, err)

	m.oracle.On("DeriveAddresses", mock.Anything, w.change, index, index).
		Return([]btcutil.Address{derivation.Address}, nil)
}

// expectCoins makes the utxo provider return the confirmed and unconfirmed
// coins for automatic selection.
func (m *builderMocks) expectCoins(confirmed,
	unconfirmed []coinselect.Utxo) {

	m.utxos.On("ListUtxos", mock.Anything, int64(1),
		int64(DefaultMaxConfs)).Return(confirmed, nil)
	m.utxos.On("ListUtxos", mock.Anything, int64(0), int64(0)).
		Return(unconfirmed, nil)
}

// verifyTx runs every input of tx through the script engine.
func verifyTx(t *testing.T, tx *wire.MsgTx, packet *psbt.Packet) {
	t.Helper()

	fetcher := PsbtPrevOutputFetcher(packet)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	for i, txIn := range tx.TxIn {
		prevOut := fetcher.FetchPrevOutput(txIn.PreviousOutPoint)
		require.NotNil(t, prevOut)

		vm, err := txscript.NewEngine(
			prevOut.PkScript, tx, i, txscript.StandardVerifyFlags,
			nil, sigHashes, prevOut.Value, fetcher,
		)
		require.NoError(t, err)
		require.NoError(t, vm.Execute(), "input %d", i)
	}
}

// buildTestRecord builds a draft spending two coins of the test wallet. The
// seed varies the funding coins so different seeds give different
// transactions.
func buildTestRecord(t *testing.T, w *testWallet,
	seed uint32) *psbtdb.Record {

	t.Helper()

	builder, mocks := newTestBuilder(t, w)
	mocks.expectCoins([]coinselect.Utxo{
		w.coin(t, seed*2, 50_000_000, 6),
		w.coin(t, seed*2+1, 50_000_000, 6),
	}, nil)
	mocks.expectChange(t, w, seed)

	record, err := builder.Estimate(t.Context(), &SpendRequest{
		Recipients: []Recipient{{
			Address: externalAddress(t, &chainParams, 0x44),
			Amount:  60_000_000,
		}},
		FeeRate:     btcunit.NewSatPerVByte(10),
		ChangeIndex: seed,
	})
	require.NoError(t, err)

	return record
}
