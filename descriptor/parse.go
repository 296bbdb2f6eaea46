// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

const (
	// maxP2SHMultisigKeys is the largest key count whose multisig script
	// still fits a P2SH redeem script.
	maxP2SHMultisigKeys = 15
)

var (
	fingerprintRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}$`)
	originPathRegex  = regexp.MustCompile(`^\d+'?(/\d+'?)*$`)
	suffixRegex      = regexp.MustCompile(`^(/(\d+|\*)'?)*$`)
	materialRegex    = regexp.MustCompile(`^[0-9A-Za-z]+$`)
	thresholdRegex   = regexp.MustCompile(`^[0-9]+$`)

	// hardenedReplacer normalizes the alternative hardened markers to an
	// apostrophe.
	hardenedReplacer = strings.NewReplacer("h", "'", "H", "'")
)

// Parse parses a descriptor for the given network. A trailing checksum is
// optional, but when present it must match the body exactly.
func Parse(text string, params *chaincfg.Params) (*Descriptor, error) {
	return parse(text, params, false)
}

// ParseStrict is like Parse but requires a checksum.
func ParseStrict(text string, params *chaincfg.Params) (*Descriptor, error) {
	return parse(text, params, true)
}

func parse(text string, params *chaincfg.Params,
	requireChecksum bool) (*Descriptor, error) {

	if params == nil {
		return nil, fmt.Errorf("nil chain params")
	}

	body, err := verifyChecksum(text, requireChecksum)
	if err != nil {
		return nil, err
	}

	if body == "" {
		return nil, newError(ErrEmptyDescriptor, "empty descriptor", nil)
	}

	if err := checkBrackets(body); err != nil {
		return nil, err
	}

	scriptType, inner, err := detectScriptType(body)
	if err != nil {
		return nil, err
	}

	desc := &Descriptor{
		scriptType: scriptType,
		threshold:  1,
		params:     params,
		original:   text,
	}

	if scriptType.IsMultisig() {
		err := desc.parseMultisig(inner)
		if err != nil {
			return nil, err
		}
	} else {
		if isCall(inner, "multi") || isCall(inner, "sortedmulti") {
			return nil, newError(ErrUnknownScript, fmt.Sprintf(
				"multisig is not allowed inside %v", scriptType,
			), nil)
		}

		key, err := parseKey(inner)
		if err != nil {
			return nil, err
		}
		desc.keys = []Key{key}
	}

	log.Tracef("Parsed %v descriptor: threshold=%d, keys=%d, sorted=%v",
		desc.scriptType, desc.threshold, len(desc.keys), desc.sorted)

	return desc, nil
}

// checkBrackets verifies that parentheses are balanced and that key origin
// brackets are neither nested nor contain parentheses.
func checkBrackets(s string) error {
	parens := 0
	inOrigin := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			if inOrigin {
				return bracketError(i, "'(' inside key origin")
			}
			parens++

		case ')':
			if inOrigin {
				return bracketError(i, "')' inside key origin")
			}
			if parens == 0 {
				return bracketError(i, "unmatched ')'")
			}
			parens--

		case '[':
			if inOrigin {
				return bracketError(i, "nested '['")
			}
			inOrigin = true

		case ']':
			if !inOrigin {
				return bracketError(i, "unmatched ']'")
			}
			inOrigin = false
		}
	}

	if inOrigin {
		return bracketError(len(s), "unterminated key origin")
	}
	if parens != 0 {
		return bracketError(len(s), "unbalanced parentheses")
	}

	return nil
}

func bracketError(pos int, reason string) error {
	return newError(ErrMalformedBrackets, fmt.Sprintf("%s at position %d",
		reason, pos), nil)
}

// isCall returns true if s starts with a call to the named function.
func isCall(s, name string) bool {
	return strings.HasPrefix(s, name+"(")
}

// unwrapCall returns the argument list of a call to the named function that
// spans all of s. The bool is false if s is not a call to name.
func unwrapCall(s, name string) (string, bool, error) {
	if !isCall(s, name) {
		return "", false, nil
	}

	open := len(name)
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++

		case ')':
			depth--
			if depth != 0 {
				continue
			}

			if i != len(s)-1 {
				return "", false, newError(ErrMalformedBrackets,
					fmt.Sprintf("unexpected data after %s(...) "+
						"at position %d", name, i+1), nil)
			}

			return s[open+1 : i], true, nil
		}
	}

	return "", false, bracketError(len(s), "unterminated "+name+"(")
}

// detectScriptType matches the script wrappers from the outermost one
// inwards and returns the script type together with the wrapped expression.
func detectScriptType(body string) (ScriptType, string, error) {
	inner, ok, err := unwrapCall(body, "sh")
	if err != nil {
		return ScriptTypeUnknown, "", err
	}
	if ok {
		if in, ok, err := unwrapCall(inner, "wpkh"); err != nil || ok {
			return ScriptTypeSHWPKH, in, err
		}
		if in, ok, err := unwrapCall(inner, "wsh"); err != nil || ok {
			return ScriptTypeSHWSH, in, err
		}

		return ScriptTypeSH, inner, nil
	}

	wrappers := []struct {
		name       string
		scriptType ScriptType
	}{
		{"wpkh", ScriptTypeWPKH},
		{"wsh", ScriptTypeWSH},
		{"pkh", ScriptTypePKH},
	}
	for _, w := range wrappers {
		in, ok, err := unwrapCall(body, w.name)
		if err != nil {
			return ScriptTypeUnknown, "", err
		}
		if ok {
			return w.scriptType, in, nil
		}
	}

	// Anything else must be a bare key expression, which is treated as
	// pay-to-pubkey-hash.
	if strings.ContainsAny(body, "()") {
		return ScriptTypeUnknown, "", newError(ErrUnknownScript,
			fmt.Sprintf("unsupported script expression %q", body), nil)
	}

	return ScriptTypePKH, body, nil
}

// parseMultisig parses the multi or sortedmulti expression wrapped by a
// script hash template.
func (d *Descriptor) parseMultisig(expr string) error {
	args, ok, err := unwrapCall(expr, "sortedmulti")
	if err != nil {
		return err
	}
	if ok {
		d.sorted = true
	} else {
		args, ok, err = unwrapCall(expr, "multi")
		if err != nil {
			return err
		}
		if !ok {
			return newError(ErrUnknownScript, fmt.Sprintf(
				"%v descriptor must wrap multi or sortedmulti",
				d.scriptType,
			), nil)
		}
	}

	parts := splitTopLevel(args)
	if !thresholdRegex.MatchString(parts[0]) {
		return newError(ErrInvalidThreshold, fmt.Sprintf(
			"invalid multisig threshold %q", parts[0],
		), nil)
	}

	threshold, err := strconv.Atoi(parts[0])
	if err != nil || threshold < 1 {
		return newError(ErrInvalidThreshold, fmt.Sprintf(
			"invalid multisig threshold %q", parts[0],
		), err)
	}

	keyExprs := parts[1:]
	maxKeys := txscript.MaxPubKeysPerMultiSig
	if d.scriptType == ScriptTypeSH {
		maxKeys = maxP2SHMultisigKeys
	}

	switch {
	case len(keyExprs) == 0:
		return newError(ErrKeyCountMismatch, "multisig without keys",
			nil)

	case threshold > len(keyExprs):
		return newError(ErrKeyCountMismatch, fmt.Sprintf(
			"threshold %d exceeds key count %d", threshold,
			len(keyExprs),
		), nil)

	case len(keyExprs) > maxKeys:
		return newError(ErrKeyCountMismatch, fmt.Sprintf(
			"%d keys exceed the limit of %d for %v",
			len(keyExprs), maxKeys, d.scriptType,
		), nil)
	}

	keys := make([]Key, 0, len(keyExprs))
	for _, expr := range keyExprs {
		key, err := parseKey(expr)
		if err != nil {
			return err
		}
		keys = append(keys, key)
	}

	if d.sorted {
		sort.SliceStable(keys, func(i, j int) bool {
			return keys[i].sortKey() < keys[j].sortKey()
		})
	}

	d.threshold = threshold
	d.keys = keys

	return nil
}

// splitTopLevel splits s on commas that are not nested inside parentheses
// or key origin brackets.
func splitTopLevel(s string) []string {
	var (
		parts []string
		depth int
		start int
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[':
			depth++

		case ')', ']':
			depth--

		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}

	return append(parts, s[start:])
}

// parseKey parses a key expression of the form
// [fingerprint/origin/path]material/suffix.
func parseKey(expr string) (Key, error) {
	var key Key

	rest := expr
	if strings.HasPrefix(rest, "[") {
		end := strings.Index(rest, "]")
		if end < 0 {
			return key, bracketError(0, "unterminated key origin")
		}

		origin := rest[1:end]
		rest = rest[end+1:]

		fingerprint, path, _ := strings.Cut(origin, "/")
		if !fingerprintRegex.MatchString(fingerprint) {
			return key, newError(ErrInvalidKey, fmt.Sprintf(
				"fingerprint %q is not 8 hex characters",
				fingerprint,
			), nil)
		}

		path = hardenedReplacer.Replace(path)
		if path != "" && !originPathRegex.MatchString(path) {
			return key, newError(ErrInvalidKey, fmt.Sprintf(
				"invalid origin path %q", path,
			), nil)
		}

		key.Fingerprint = strings.ToLower(fingerprint)
		key.OriginPath = path
	}

	material, suffix := rest, ""
	if idx := strings.Index(rest, "/"); idx >= 0 {
		material, suffix = rest[:idx], rest[idx:]
	}

	if material == "" {
		return key, newError(ErrInvalidKey, fmt.Sprintf(
			"key expression %q has no key", expr,
		), nil)
	}
	if !materialRegex.MatchString(material) {
		return key, newError(ErrInvalidKey, fmt.Sprintf(
			"invalid key material %q", material,
		), nil)
	}

	suffix = hardenedReplacer.Replace(suffix)
	if !suffixRegex.MatchString(suffix) {
		return key, newError(ErrInvalidKey, fmt.Sprintf(
			"invalid derivation suffix %q", suffix,
		), nil)
	}

	if err := validateMaterial(material, suffix); err != nil {
		return key, err
	}

	key.Material = material
	key.Suffix = suffix

	return key, nil
}

// validateMaterial makes sure material decodes as a public key or as an
// extended key. Only extended keys may carry a derivation suffix.
func validateMaterial(material, suffix string) error {
	if isHexPubKey(material) {
		if suffix != "" {
			return newError(ErrInvalidKey, fmt.Sprintf(
				"derivation suffix on non-extended key %s",
				material,
			), nil)
		}

		raw, _ := hex.DecodeString(material)
		if _, err := btcec.ParsePubKey(raw); err != nil {
			return newError(ErrInvalidKey, "invalid public key", err)
		}

		return nil
	}

	if _, err := hdkeychain.NewKeyFromString(material); err != nil {
		return newError(ErrInvalidKey, "invalid extended key", err)
	}

	return nil
}
