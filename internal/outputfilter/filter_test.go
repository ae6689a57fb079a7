package outputfilter

import (
	"strings"
	"testing"
)

func TestSanitizeRedactsHexPrivateKey(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"with 0x prefix", "your key is 0x" + strings.Repeat("a1", 32) + " keep it safe"},
		{"without prefix", "raw: " + strings.Repeat("b2", 32)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Sanitize(tt.text)
			if strings.Contains(out, "a1a1") || strings.Contains(out, "b2b2") {
				t.Fatalf("expected key material to be redacted, got %q", out)
			}
			if !strings.Contains(out, redactedMarker) {
				t.Fatalf("expected redaction marker in output, got %q", out)
			}
		})
	}
}

func TestSanitizeLeavesShortHexAlone(t *testing.T) {
	text := "the contract address is 0x1111111111111111111111111111111111111111"
	out := Sanitize(text)
	if out != text {
		t.Fatalf("expected a 40-char address to pass through unredacted, got %q", out)
	}
}

func TestSanitizeRedactsBip39Mnemonic(t *testing.T) {
	words := []string{
		"abandon", "ability", "able", "about", "above", "absent",
		"absorb", "abstract", "absurd", "abuse", "access", "accident",
	}
	text := "backup phrase: " + strings.Join(words, " ") + " end of message"

	out := Sanitize(text)
	if strings.Contains(out, "abandon") {
		t.Fatalf("expected mnemonic to be redacted, got %q", out)
	}
	if !strings.Contains(out, redactedMarker) {
		t.Fatalf("expected redaction marker in output, got %q", out)
	}
}

func TestSanitizeMnemonicToleratesObfuscation(t *testing.T) {
	// mixed case and comma separators, still 12 BIP-39 tokens.
	text := "Abandon, ABILITY, able, About, Above, Absent, Absorb, Abstract, Absurd, Abuse, Access, Accident done"
	out := Sanitize(text)
	if strings.Contains(strings.ToLower(out), "abandon") {
		t.Fatalf("expected obfuscated mnemonic to still be redacted, got %q", out)
	}
}

func TestSanitizeIgnoresProseBelowThreshold(t *testing.T) {
	// 12 common English words, only 3 of them BIP-39 words (please,
	// report, dinner): 25%, below the 40% match threshold.
	text := "please send our manager the report for friday at noon with dinner"
	out := Sanitize(text)
	if out != text {
		t.Fatalf("expected ordinary prose to pass through unchanged, got %q", out)
	}
}

func TestSanitizeBlocksKeystoreJSON(t *testing.T) {
	keystore := `{"version":3,"id":"abc","address":"1111","crypto":{"cipher":"aes-128-ctr","ciphertext":"deadbeef","cipherparams":{"iv":"0"},"kdf":"scrypt","mac":"0"}}`
	out := Sanitize(keystore)
	if out != blockedMarker {
		t.Fatalf("expected keystore JSON to be fully blocked, got %q", out)
	}
}

func TestSanitizeIsIdempotent(t *testing.T) {
	text := "key 0x" + strings.Repeat("c3", 32) + " and done"
	once := Sanitize(text)
	twice := Sanitize(once)
	if once != twice {
		t.Fatalf("expected Sanitize to be idempotent, got %q then %q", once, twice)
	}
}
