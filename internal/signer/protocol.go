// Package signer implements the isolated signer process and its
// client-side forwarder. The signer holds the decrypted private key in
// its own process memory; the agent process never sees it, only
// request/approval-token pairs that cross a Unix domain socket as
// newline-delimited JSON.
package signer

import (
	"time"

	"github.com/Kweiss/Wardex/pkg/models"
)

// DefaultSocketTimeout is the client-side connect/round-trip timeout
// when a caller doesn't configure one (spec.md §4.5/§5).
const DefaultSocketTimeout = 10 * time.Second

// ApprovalTokenExpiry is how long an approval token remains valid after
// its embedded timestamp.
const ApprovalTokenExpiry = 300_000 * time.Millisecond

// Request and Response alias the wire types in pkg/models so the
// signer package reads naturally without a models. prefix at every
// call site.
type Request = models.SignerRequest
type Response = models.SignerResponse

// SignResult is the decoded payload the signer places in a successful
// sign_transaction or sign_message Response.Data.
type SignResult struct {
	Signature string `json:"signature"`
	Address   string `json:"address,omitempty"`
}

// AddressResult is the payload for a successful get_address response.
type AddressResult struct {
	Address string `json:"address"`
}

// HealthResult is the payload for a successful health_check response.
type HealthResult struct {
	Status string `json:"status"`
}
