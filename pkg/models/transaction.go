// Package models defines the core data types that flow through the
// Wardex evaluation pipeline: the transaction under review, its decoded
// form, and the conversational context an AI agent proposed it in.
package models

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// TransactionRequest is the thing Wardex evaluates: a transaction an AI
// agent wants signed, before any signing material is touched.
type TransactionRequest struct {
	To       string       `json:"to"`               // 0x + 40 hex, mandatory
	Value    *uint256.Int `json:"value"`             // wei, unsigned 256-bit, default 0
	Data     string       `json:"data,omitempty"`    // hex calldata, optional
	ChainID  int64        `json:"chainId"`           // positive integer
	GasPrice *uint256.Int `json:"gasPrice,omitempty"`
	Nonce    *uint64      `json:"nonce,omitempty"`
}

// Validate checks the invariants spec.md §3 places on a TransactionRequest:
// `to` must be syntactically valid, `value` non-negative (guaranteed by
// the unsigned type), and `data`, if present, must be hex.
func (t TransactionRequest) Validate() error {
	if !common.IsHexAddress(t.To) {
		return fmt.Errorf("to address %q is not a syntactically valid 20-byte hex address", t.To)
	}
	if t.ChainID <= 0 {
		return fmt.Errorf("chainId must be positive, got %d", t.ChainID)
	}
	if t.Data != "" {
		d := strings.TrimPrefix(t.Data, "0x")
		if len(d)%2 != 0 {
			return fmt.Errorf("calldata %q is not valid hex: odd length", t.Data)
		}
		for _, r := range d {
			if !isHexDigit(r) {
				return fmt.Errorf("calldata %q is not valid hex", t.Data)
			}
		}
	}
	return nil
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

// ValueOrZero returns t.Value, or the zero value if unset.
func (t TransactionRequest) ValueOrZero() *uint256.Int {
	if t.Value == nil {
		return uint256.NewInt(0)
	}
	return t.Value
}

// DataBytes decodes the hex calldata, returning nil for an empty string.
func (t TransactionRequest) DataBytes() []byte {
	if t.Data == "" {
		return nil
	}
	d := strings.TrimPrefix(t.Data, "0x")
	if len(d)%2 != 0 {
		return nil
	}
	out := make([]byte, len(d)/2)
	for i := 0; i < len(out); i++ {
		hi := hexVal(d[i*2])
		lo := hexVal(d[i*2+1])
		if hi < 0 || lo < 0 {
			return nil
		}
		out[i] = byte(hi<<4 | lo)
	}
	return out
}

func hexVal(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	default:
		return -1
	}
}

// DecodedTransaction is the result of calldata inspection by the
// Transaction Decoder stage.
type DecodedTransaction struct {
	Selector          string                 `json:"selector,omitempty"` // recognized function name, if any
	Params            map[string]interface{} `json:"params,omitempty"`
	IsApproval        bool                   `json:"isApproval"`
	IsTransfer        bool                   `json:"isTransfer"`
	InvolvesEth       bool                   `json:"involvesEth"`
	EstimatedValueUsd float64                `json:"estimatedValueUsd"`
}
