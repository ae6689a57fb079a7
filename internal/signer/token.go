package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// approvalTokenHexLen is the wire length of a token: 64 hex chars of
// HMAC-SHA256 tag followed by 16 hex chars of a zero-padded
// milliseconds-since-epoch timestamp (spec.md §6).
const approvalTokenHexLen = 80

// GenerateApprovalToken produces an 80-hex-character approval token
// authorizing subject (a transaction hash or a message) at the given
// time, HMAC-signed with secret.
func GenerateApprovalToken(secret []byte, subject string, now time.Time) string {
	ts := now.UnixMilli()
	tsHex := fmt.Sprintf("%016x", ts)

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(subject))
	mac.Write([]byte(tsHex))
	tag := hex.EncodeToString(mac.Sum(nil))

	return tag + tsHex
}

// VerifyApprovalToken reports whether token authorizes subject right
// now: it must be well-formed, its HMAC tag must match in constant
// time, and its embedded timestamp must be within ApprovalTokenExpiry
// of now and not in the future. Malformed tokens are rejected before
// any cryptographic comparison runs, per spec.md §6 ("non-conforming
// strings are rejected without any crypto evaluation").
func VerifyApprovalToken(secret []byte, subject, token string, now time.Time) bool {
	token = strings.ToLower(token)
	if len(token) != approvalTokenHexLen {
		return false
	}
	if _, err := hex.DecodeString(token); err != nil {
		return false
	}

	tagHex := token[:64]
	tsHex := token[64:]

	tsMillis, err := strconv.ParseInt(tsHex, 16, 64)
	if err != nil {
		return false
	}
	issued := time.UnixMilli(tsMillis)
	if issued.After(now) {
		return false
	}
	if now.Sub(issued) > ApprovalTokenExpiry {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(subject))
	mac.Write([]byte(tsHex))
	expectedTag := hex.EncodeToString(mac.Sum(nil))

	return subtle.ConstantTimeCompare([]byte(tagHex), []byte(expectedTag)) == 1
}
