package session

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Kweiss/Wardex/pkg/models"
)

// dailyPeriodSeconds is the NativeTokenPeriod enforcer's fixed window,
// spec.md §4.6.
const dailyPeriodSeconds = 86400

// Caveat is one ABI-encoded enforcer term derived from a session's
// fields, for ecosystems supporting on-chain delegation caveats.
type Caveat struct {
	Enforcer string `json:"enforcer"`
	Term     []byte `json:"term"`
}

// safeSelectorSignatures are the methods a "strict" infinite-approval
// ban allowlists: transfers, the swap/multicall surface the
// Transaction Decoder already recognizes, minus approve and
// setApprovalForAll. Kept as signatures rather than raw bytes4 so the
// hashed selector is derived the same way decoder.go derives its own
// table, and the two tables can't silently drift apart.
var safeSelectorSignatures = []string{
	"transfer(address,uint256)",
	"transferFrom(address,address,uint256)",
	"safeTransferFrom(address,address,uint256)",
	"safeTransferFrom(address,address,uint256,bytes)",
	"swapExactTokensForTokens(uint256,uint256,address[],address,uint256)",
	"swapExactETHForTokens(uint256,address[],address,uint256)",
	"swapExactTokensForETH(uint256,uint256,address[],address,uint256)",
	"exactInputSingle((address,address,uint24,address,uint256,uint256,uint256,uint160))",
	"multicall(bytes[])",
	"multicall(uint256,bytes[])",
}

// BuildCaveats maps a session key's fields to ABI-encoded enforcer
// terms per spec.md §4.6's caveat mapping table.
func BuildCaveats(key models.SessionKey) ([]Caveat, error) {
	var caveats []Caveat

	if len(key.AllowedContracts) > 0 {
		term, err := encodeAllowedTargets(key.AllowedContracts)
		if err != nil {
			return nil, fmt.Errorf("encode AllowedTargets: %w", err)
		}
		caveats = append(caveats, Caveat{Enforcer: "AllowedTargets", Term: term})
	}

	if key.MaxValuePerTx != nil {
		term, err := encodeUint256(key.MaxValuePerTx.ToBig())
		if err != nil {
			return nil, fmt.Errorf("encode ValueLte: %w", err)
		}
		caveats = append(caveats, Caveat{Enforcer: "ValueLte", Term: term})
	}

	if key.MaxDailyVolume != nil {
		term, err := encodeTuple([]string{"uint256", "uint256"}, key.MaxDailyVolume.ToBig(), big.NewInt(dailyPeriodSeconds))
		if err != nil {
			return nil, fmt.Errorf("encode NativeTokenPeriod: %w", err)
		}
		caveats = append(caveats, Caveat{Enforcer: "NativeTokenPeriod", Term: term})
	}

	if key.DurationSeconds > 0 {
		beforeTs := key.Start.Add(time.Duration(key.DurationSeconds) * time.Second).Unix()
		term, err := encodeTuple([]string{"uint256", "uint256"}, big.NewInt(0), big.NewInt(beforeTs))
		if err != nil {
			return nil, fmt.Errorf("encode Timestamp: %w", err)
		}
		caveats = append(caveats, Caveat{Enforcer: "Timestamp", Term: term})
	}

	if key.ForbidInfiniteApprovals {
		term, err := encodeAllowedMethods(safeSelectorSignatures)
		if err != nil {
			return nil, fmt.Errorf("encode AllowedMethods: %w", err)
		}
		caveats = append(caveats, Caveat{Enforcer: "AllowedMethods", Term: term})
	}

	return caveats, nil
}

func encodeAllowedTargets(contracts []string) ([]byte, error) {
	addrs := make([]common.Address, len(contracts))
	for i, c := range contracts {
		addrs[i] = common.HexToAddress(strings.ToLower(c))
	}
	typ, err := abi.NewType("address[]", "", nil)
	if err != nil {
		return nil, err
	}
	return abi.Arguments{{Type: typ}}.Pack(addrs)
}

func encodeUint256(value *big.Int) ([]byte, error) {
	typ, err := abi.NewType("uint256", "", nil)
	if err != nil {
		return nil, err
	}
	return abi.Arguments{{Type: typ}}.Pack(value)
}

func encodeTuple(types []string, values ...interface{}) ([]byte, error) {
	args := make(abi.Arguments, len(types))
	for i, t := range types {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			return nil, err
		}
		args[i] = abi.Argument{Type: typ}
	}
	return args.Pack(values...)
}

func encodeAllowedMethods(signatures []string) ([]byte, error) {
	selectors := make([][4]byte, len(signatures))
	for i, sig := range signatures {
		copy(selectors[i][:], crypto.Keccak256([]byte(sig))[:4])
	}
	typ, err := abi.NewType("bytes4[]", "", nil)
	if err != nil {
		return nil, err
	}
	return abi.Arguments{{Type: typ}}.Pack(selectors)
}
