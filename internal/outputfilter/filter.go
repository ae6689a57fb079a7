// Package outputfilter sanitizes any text bound for the agent or an
// external caller, stripping private key material before it leaves
// Wardex. There is no bypass: callers have exactly one entry point,
// Sanitize, and it is safe to call more than once on the same text.
package outputfilter

import (
	"regexp"
)

const redactedMarker = "[REDACTED BY WARDEX]"
const blockedMarker = "[OUTPUT BLOCKED BY WARDEX: keystore material detected]"

const mnemonicMatchThreshold = 0.4

var mnemonicRunLengths = []int{24, 21, 18, 15, 12}

// hexPrivateKeyPattern matches a 64 hex-character run with an optional
// 0x prefix, framed by word boundaries so it doesn't match inside a
// longer hex blob (e.g. a contract bytecode dump).
var hexPrivateKeyPattern = regexp.MustCompile(`\b0x[0-9a-fA-F]{64}\b|\b[0-9a-fA-F]{64}\b`)

// wordToken matches a contiguous alphabetic run, ignoring punctuation
// and whitespace separators entirely so comma-separated or
// multiline-wrapped mnemonics tokenize the same as space-separated
// ones.
var wordToken = regexp.MustCompile(`[A-Za-z]+`)

// keystoreCryptoKey and keystoreCipherKey detect the JSON keystore
// "crypto"/"cipher" substructure (Web3 Secret Storage, EIP-2335 style)
// loosely enough to survive minified or pretty-printed JSON.
var keystoreCryptoKey = regexp.MustCompile(`"crypto"\s*:\s*\{`)
var keystoreCipherKey = regexp.MustCompile(`"cipher(text)?"\s*:`)

// Sanitize runs all three detectors over text and returns the text
// that is safe to emit. A detected keystore blocks the entire
// string — no partial emission — everything else is redacted in
// place.
func Sanitize(text string) string {
	if looksLikeKeystore(text) {
		return blockedMarker
	}
	text = redactHexPrivateKeys(text)
	text = redactMnemonics(text)
	return text
}

func looksLikeKeystore(text string) bool {
	return keystoreCryptoKey.MatchString(text) && keystoreCipherKey.MatchString(text)
}

func redactHexPrivateKeys(text string) string {
	return hexPrivateKeyPattern.ReplaceAllString(text, redactedMarker)
}

// redactMnemonics scans the alphabetic token stream for a run of
// exactly 12, 15, 18, 21, or 24 tokens where at least 40% are BIP-39
// words, and replaces the whole run. Runs are checked longest-first so
// a 24-token mnemonic isn't partially redacted as a shorter 12-token
// match nested inside it. Matched spans never overlap: once a run is
// redacted, scanning resumes after it.
func redactMnemonics(text string) string {
	matches := wordToken.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return text
	}

	var b []byte
	cursor := 0
	i := 0
	for i < len(matches) {
		tok := text[matches[i][0]:matches[i][1]]
		if !isBip39Word(tok) {
			i++
			continue
		}
		runLen, matched := findMnemonicRun(text, matches, i)
		if !matched {
			i++
			continue
		}
		start := matches[i][0]
		end := matches[i+runLen-1][1]
		b = append(b, text[cursor:start]...)
		b = append(b, redactedMarker...)
		cursor = end
		i += runLen
	}
	b = append(b, text[cursor:]...)
	return string(b)
}

// findMnemonicRun tries each candidate mnemonic length starting at
// token index i and reports the first one that clears the BIP-39
// match threshold, preferring the longest.
func findMnemonicRun(text string, tokens [][]int, i int) (runLen int, ok bool) {
	for _, length := range mnemonicRunLengths {
		if i+length > len(tokens) {
			continue
		}
		lastTok := text[tokens[i+length-1][0]:tokens[i+length-1][1]]
		if !isBip39Word(lastTok) {
			// A window whose last token isn't a mnemonic word is almost
			// always trailing prose dragged in by the threshold check,
			// not the tail of the secret itself.
			continue
		}
		matchCount := 0
		for j := 0; j < length; j++ {
			tok := text[tokens[i+j][0]:tokens[i+j][1]]
			if isBip39Word(tok) {
				matchCount++
			}
		}
		if float64(matchCount)/float64(length) >= mnemonicMatchThreshold {
			return length, true
		}
	}
	return 0, false
}
