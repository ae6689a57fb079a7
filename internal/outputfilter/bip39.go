package outputfilter

import (
	_ "embed"
	"strings"
)

//go:embed data/bip39_english.txt
var bip39EnglishRaw string

// bip39English is the default mnemonic word list. Loaded once at
// package init, mirroring the teacher's internal/db/postgres.go
// pattern of shipping reference data as a file read at startup,
// upgraded to a compile-time go:embed since a wordlist never needs
// hand editing at deploy time the way a SQL schema might.
var bip39English = loadWordlist(bip39EnglishRaw)

func loadWordlist(raw string) map[string]struct{} {
	words := strings.Fields(raw)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[strings.ToLower(w)] = struct{}{}
	}
	return set
}

// isBip39Word reports whether token matches a word list entry,
// case-insensitively.
func isBip39Word(token string) bool {
	_, ok := bip39English[strings.ToLower(token)]
	return ok
}
