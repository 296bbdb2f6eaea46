// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/btcsuite/cosigner/chain"
	"github.com/btcsuite/cosigner/descriptor"
	"github.com/btcsuite/cosigner/psbtdb"
	"github.com/btcsuite/cosigner/psbtdb/kvdb"
)

const (
	defaultLogFilename = "cosigner.log"
	defaultDBFilename  = "psbts.db"
	defaultDBTimeout   = 10 * time.Second

	dbBackendSQLite   = "sqlite"
	dbBackendBolt     = "bolt"
	dbBackendPostgres = "postgres"
)

var (
	defaultAppDataDir = btcutil.AppDataDir("cosigner", false)

	// errMissingDescriptors is returned by commands that need the wallet
	// descriptors when they are not configured.
	errMissingDescriptors = errors.New("--receive and --change " +
		"descriptors are required")

	// errMissingRPCHost is returned by commands that need a node when
	// none is configured.
	errMissingRPCHost = errors.New("--rpchost is required")
)

// networks maps the --network choices to their chain parameters.
var networks = map[string]*chaincfg.Params{
	"mainnet":  &chaincfg.MainNetParams,
	"testnet3": &chaincfg.TestNet3Params,
	"signet":   &chaincfg.SigNetParams,
	"regtest":  &chaincfg.RegressionNetParams,
}

// config defines the global options of the cosigner command.
type config struct {
	Network    string `long:"network" description:"Bitcoin network the descriptors and PSBTs belong to" choice:"mainnet" choice:"testnet3" choice:"signet" choice:"regtest" default:"mainnet"`
	AppDataDir string `long:"appdata" description:"Application data directory for the database and logs"`
	LogDir     string `long:"logdir" description:"Directory to log output"`
	NoLogFile  bool   `long:"nologfile" description:"Do not write a log file"`
	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems" default:"info"`

	DBBackend   string `long:"dbbackend" description:"Database backend for pending PSBTs" choice:"sqlite" choice:"bolt" choice:"postgres" default:"sqlite"`
	PostgresDSN string `long:"postgres.dsn" description:"Connection string of the postgres database"`

	Receive string `long:"receive" description:"Descriptor of the wallet's receive addresses"`
	Change  string `long:"change" description:"Descriptor of the wallet's change addresses"`

	RPCHost     string `long:"rpchost" description:"host:port of the bitcoind RPC server, optionally with a /wallet/<name> path"`
	RPCUser     string `long:"rpcuser" description:"bitcoind RPC user name"`
	RPCPass     string `long:"rpcpass" default-mask:"-" description:"bitcoind RPC password"`
	RPCCert     string `long:"rpccert" description:"Certificate of a TLS proxy in front of bitcoind; plain HTTP is used when empty"`
	FetchPrevTx bool   `long:"fetchprevtx" description:"Attach the full previous transaction of every input for signers that require it"`

	params *chaincfg.Params
	out    io.Writer
	errOut io.Writer
}

// newConfig returns a config with its writers set.
func newConfig(out, errOut io.Writer) *config {
	return &config{
		out:    out,
		errOut: errOut,
	}
}

// resolve checks the parsed options and fills in the derived values.
func (c *config) resolve() error {
	params, ok := networks[c.Network]
	if !ok {
		return fmt.Errorf("unknown network %q", c.Network)
	}
	c.params = params

	if c.AppDataDir == "" {
		c.AppDataDir = defaultAppDataDir
	}
	c.AppDataDir = cleanAndExpandPath(c.AppDataDir)

	if c.LogDir == "" {
		c.LogDir = filepath.Join(c.AppDataDir, "logs", c.Network)
	}
	c.LogDir = cleanAndExpandPath(c.LogDir)

	return nil
}

// cleanAndExpandPath expands environment variables and a leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[1:])
		}
	}

	return filepath.Clean(os.ExpandEnv(path))
}

// descriptors parses the configured receive and change descriptors.
func (c *config) descriptors() (*descriptor.Descriptor,
	*descriptor.Descriptor, error) {

	if c.Receive == "" || c.Change == "" {
		return nil, nil, errMissingDescriptors
	}

	receive, err := descriptor.Parse(c.Receive, c.params)
	if err != nil {
		return nil, nil, fmt.Errorf("receive descriptor: %w", err)
	}

	change, err := descriptor.Parse(c.Change, c.params)
	if err != nil {
		return nil, nil, fmt.Errorf("change descriptor: %w", err)
	}

	return receive, change, nil
}

// openStore opens the configured PSBT store. The returned function closes
// the underlying database.
func (c *config) openStore() (psbtdb.Store, func(), error) {
	netDir := filepath.Join(c.AppDataDir, c.Network)

	switch c.DBBackend {
	case dbBackendPostgres:
		if c.PostgresDSN == "" {
			return nil, nil, errors.New("--postgres.dsn is required")
		}

		db, err := psbtdb.OpenPostgres(c.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}

		store, err := psbtdb.NewPostgresPsbtDB(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}

		return store, func() { _ = db.Close() }, nil

	case dbBackendBolt:
		if err := os.MkdirAll(netDir, 0700); err != nil {
			return nil, nil, err
		}

		db, err := walletdb.Create(
			"bdb", filepath.Join(netDir, "psbts.bolt"), true,
			defaultDBTimeout, false,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("open bolt db: %w", err)
		}

		store, err := kvdb.NewStore(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}

		return store, func() { _ = db.Close() }, nil

	default:
		if err := os.MkdirAll(netDir, 0700); err != nil {
			return nil, nil, err
		}

		db, err := psbtdb.OpenSQLite(filepath.Join(netDir, defaultDBFilename))
		if err != nil {
			return nil, nil, err
		}

		store, err := psbtdb.NewSQLitePsbtDB(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}

		return store, func() { _ = db.Close() }, nil
	}
}

// chainClient connects to the configured bitcoind node.
func (c *config) chainClient() (*chain.BitcoindClient, error) {
	if c.RPCHost == "" {
		return nil, errMissingRPCHost
	}

	cfg := &chain.BitcoindConfig{
		Host:        c.RPCHost,
		User:        c.RPCUser,
		Pass:        c.RPCPass,
		Chain:       c.params,
		DisableTLS:  c.RPCCert == "",
		FetchPrevTx: c.FetchPrevTx,
	}

	if c.RPCCert != "" {
		certs, err := os.ReadFile(cleanAndExpandPath(c.RPCCert))
		if err != nil {
			return nil, fmt.Errorf("read rpc cert: %w", err)
		}
		cfg.Certificates = certs
	}

	return chain.NewBitcoindClient(cfg)
}
