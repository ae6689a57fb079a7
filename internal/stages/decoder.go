package stages

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/Kweiss/Wardex/internal/pipeline"
	"github.com/Kweiss/Wardex/pkg/models"
)

// selectorEntry describes one recognized function in the fixed ~15-entry
// table spec.md §4.2 stage 2 names: ERC-20 transfer/transferFrom/approve,
// ERC-721 variants, setApprovalForAll, common DEX swaps, multicall, and
// ERC-4337 handleOps.
type selectorEntry struct {
	Name       string
	Signature  string
	IsApproval bool
	IsTransfer bool
}

var selectorTable = buildSelectorTable()

func buildSelectorTable() map[string]selectorEntry {
	entries := []selectorEntry{
		{Name: "transfer", Signature: "transfer(address,uint256)", IsTransfer: true},
		{Name: "transferFrom", Signature: "transferFrom(address,address,uint256)", IsTransfer: true},
		{Name: "approve", Signature: "approve(address,uint256)", IsApproval: true},
		{Name: "safeTransferFrom", Signature: "safeTransferFrom(address,address,uint256)", IsTransfer: true},
		{Name: "safeTransferFromWithData", Signature: "safeTransferFrom(address,address,uint256,bytes)", IsTransfer: true},
		{Name: "setApprovalForAll", Signature: "setApprovalForAll(address,bool)", IsApproval: true},
		{Name: "swapExactTokensForTokens", Signature: "swapExactTokensForTokens(uint256,uint256,address[],address,uint256)"},
		{Name: "swapExactETHForTokens", Signature: "swapExactETHForTokens(uint256,address[],address,uint256)"},
		{Name: "swapExactTokensForETH", Signature: "swapExactTokensForETH(uint256,uint256,address[],address,uint256)"},
		{Name: "exactInputSingle", Signature: "exactInputSingle((address,address,uint24,address,uint256,uint256,uint256,uint160))"},
		{Name: "multicall", Signature: "multicall(bytes[])"},
		{Name: "multicallDeadline", Signature: "multicall(uint256,bytes[])"},
		{Name: "handleOps", Signature: "handleOps((address,uint256,bytes,bytes,bytes32,uint256,bytes32,bytes,bytes)[],address)"},
		{Name: "permit", Signature: "permit(address,address,uint256,uint256,uint8,bytes32,bytes32)"},
		{Name: "deposit", Signature: "deposit()"},
	}
	table := make(map[string]selectorEntry, len(entries))
	for _, e := range entries {
		sel := hex.EncodeToString(crypto.Keccak256([]byte(e.Signature))[:4])
		table[sel] = e
	}
	return table
}

// infiniteApprovalThreshold is 2^128, the bound spec.md §4.2 stage 2
// defines for the INFINITE_APPROVAL finding.
var infiniteApprovalThreshold = new(uint256.Int).Lsh(uint256.NewInt(1), 128)

// NewTransactionDecoder builds the Transaction Decoder stage (spec.md
// §4.2 stage 2).
func NewTransactionDecoder() pipeline.Stage {
	return pipeline.StageFunc{StageName: "transaction_decoder", Fn: func(ctx *pipeline.EvaluationContext, next func()) {
		decoded := decodeCalldata(ctx.Transaction)
		ctx.Decoded = decoded

		if decoded.IsApproval && decoded.Selector == "approve" {
			if amt, ok := decoded.Params["amount"].(*uint256.Int); ok && amt.Cmp(infiniteApprovalThreshold) > 0 {
				ctx.AddReason(models.SecurityReason{
					Code:     "INFINITE_APPROVAL",
					Message:  "approve() amount exceeds 2^128",
					Severity: models.SeverityCritical,
					Source:   models.SourceTransaction,
				})
			}
		}
		if decoded.Selector == "setApprovalForAll" {
			if approved, ok := decoded.Params["approved"].(bool); ok && approved {
				ctx.AddReason(models.SecurityReason{
					Code:     "SET_APPROVAL_FOR_ALL",
					Message:  "setApprovalForAll(operator, true) grants blanket collection access",
					Severity: models.SeverityHigh,
					Source:   models.SourceTransaction,
				})
			}
		}
		if decoded.Selector == "multicall" || decoded.Selector == "multicallDeadline" {
			ctx.AddReason(models.SecurityReason{
				Code:     "MULTICALL_DETECTED",
				Message:  "transaction batches multiple calls via multicall",
				Severity: models.SeverityMedium,
				Source:   models.SourceTransaction,
			})
		}
		if decoded.InvolvesEth && len(ctx.Transaction.DataBytes()) > 0 {
			ctx.AddReason(models.SecurityReason{
				Code:     "ETH_WITH_CALLDATA",
				Message:  "transaction sends native value alongside calldata",
				Severity: models.SeverityLow,
				Source:   models.SourceTransaction,
			})
		}

		next()
	}}
}

// DecodeCalldata exposes the decoder for callers outside the pipeline
// that need the same selector/parameter extraction — the session
// manager's infinite-approval check reuses it rather than
// re-implementing selector matching.
func DecodeCalldata(tx models.TransactionRequest) *models.DecodedTransaction {
	return decodeCalldata(tx)
}

func decodeCalldata(tx models.TransactionRequest) *models.DecodedTransaction {
	data := tx.DataBytes()
	decoded := &models.DecodedTransaction{
		Params:      make(map[string]interface{}),
		InvolvesEth: tx.ValueOrZero().Sign() > 0,
	}

	if len(data) < 4 {
		return decoded
	}
	sel := hex.EncodeToString(data[:4])
	entry, ok := selectorTable[sel]
	if !ok {
		return decoded
	}

	decoded.Selector = entry.Name
	decoded.IsApproval = entry.IsApproval
	decoded.IsTransfer = entry.IsTransfer

	params := data[4:]
	switch entry.Name {
	case "approve":
		if len(params) >= 64 {
			decoded.Params["spender"] = addressFromWord(params[0:32])
			decoded.Params["amount"] = uint256FromWord(params[32:64])
		}
	case "transfer":
		if len(params) >= 64 {
			decoded.Params["to"] = addressFromWord(params[0:32])
			decoded.Params["amount"] = uint256FromWord(params[32:64])
		}
	case "transferFrom", "safeTransferFrom":
		if len(params) >= 96 {
			decoded.Params["from"] = addressFromWord(params[0:32])
			decoded.Params["to"] = addressFromWord(params[32:64])
			decoded.Params["amount"] = uint256FromWord(params[64:96])
		}
	case "setApprovalForAll":
		if len(params) >= 64 {
			decoded.Params["operator"] = addressFromWord(params[0:32])
			decoded.Params["approved"] = params[63] != 0
		}
	}
	return decoded
}

func addressFromWord(word []byte) string {
	if len(word) < 32 {
		return ""
	}
	return fmt.Sprintf("0x%s", hex.EncodeToString(word[12:32]))
}

func uint256FromWord(word []byte) *uint256.Int {
	return uint256.MustFromBig(new(big.Int).SetBytes(word))
}
