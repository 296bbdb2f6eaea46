// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/btcsuite/btclog"
	"github.com/btcsuite/cosigner/chain"
	"github.com/btcsuite/cosigner/coinselect"
	"github.com/btcsuite/cosigner/descriptor"
	"github.com/btcsuite/cosigner/psbtdb"
	"github.com/btcsuite/cosigner/psbtdb/kvdb"
	"github.com/btcsuite/cosigner/wallet"
	"github.com/jrick/logrotate/rotator"
)

// subsystemLoggers maps each subsystem tag to the function that installs its
// logger.
var subsystemLoggers = map[string]func(btclog.Logger){
	"DESC": descriptor.UseLogger,
	"CSEL": coinselect.UseLogger,
	"WLLT": wallet.UseLogger,
	"PSDB": func(l btclog.Logger) {
		psbtdb.UseLogger(l)
		kvdb.UseLogger(l)
	},
	"CHIO": chain.UseLogger,
	"CSGN": func(l btclog.Logger) { log = l },
}

// log is the logger of the command itself.
var log = btclog.Disabled

// logWriter writes to the error output and, if set, to the log rotator.
type logWriter struct {
	out     io.Writer
	rotator *rotator.Rotator
}

// Write writes p to both outputs. Errors of the rotator are ignored so a
// full disk never stops a command.
func (w *logWriter) Write(p []byte) (int, error) {
	if _, err := w.out.Write(p); err != nil {
		return 0, err
	}

	if w.rotator != nil {
		_, _ = w.rotator.Write(p)
	}

	return len(p), nil
}

// initLogging creates the subsystem loggers, writing to errOut and, unless
// disabled, to a rotated log file in the log directory. The returned
// function disables the loggers again and closes the log file.
func initLogging(cfg *config) (func(), error) {
	writer := &logWriter{out: cfg.errOut}

	if !cfg.NoLogFile {
		if err := os.MkdirAll(cfg.LogDir, 0700); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}

		logFile := filepath.Join(cfg.LogDir, defaultLogFilename)
		r, err := rotator.New(logFile, 10*1024, false, 3)
		if err != nil {
			return nil, fmt.Errorf("create file rotator: %w", err)
		}
		writer.rotator = r
	}

	backend := btclog.NewBackend(writer)
	loggers := make(map[string]btclog.Logger, len(subsystemLoggers))
	for tag, use := range subsystemLoggers {
		logger := backend.Logger(tag)
		loggers[tag] = logger
		use(logger)
	}

	cleanup := func() {
		for _, use := range subsystemLoggers {
			use(btclog.Disabled)
		}
		if writer.rotator != nil {
			_ = writer.rotator.Close()
		}
	}

	if err := setLogLevels(loggers, cfg.DebugLevel); err != nil {
		cleanup()
		return nil, err
	}

	return cleanup, nil
}

// setLogLevels parses debugLevel and applies it to the loggers. It is either
// a single level for every subsystem or a comma separated list of
// <subsystem>=<level> pairs.
func setLogLevels(loggers map[string]btclog.Logger, debugLevel string) error {
	if !strings.Contains(debugLevel, "=") {
		level, ok := btclog.LevelFromString(debugLevel)
		if !ok {
			return fmt.Errorf("invalid debug level %q", debugLevel)
		}

		for _, logger := range loggers {
			logger.SetLevel(level)
		}

		return nil
	}

	for _, pair := range strings.Split(debugLevel, ",") {
		tag, levelStr, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("invalid subsystem level %q, expected "+
				"<subsystem>=<level>", pair)
		}

		logger, ok := loggers[tag]
		if !ok {
			return fmt.Errorf("unknown subsystem %q, supported "+
				"subsystems are %v", tag, supportedSubsystems())
		}

		level, ok := btclog.LevelFromString(levelStr)
		if !ok {
			return fmt.Errorf("invalid debug level %q for %s",
				levelStr, tag)
		}
		logger.SetLevel(level)
	}

	return nil
}

// supportedSubsystems returns the sorted subsystem tags.
func supportedSubsystems() []string {
	tags := make([]string, 0, len(subsystemLoggers))
	for tag := range subsystemLoggers {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	return tags
}
