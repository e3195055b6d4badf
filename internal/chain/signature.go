package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

// parseSignature splits a combined function signature of the form
// "name(inTypes)(outTypes)" into its selector signature and typed argument
// lists. Only elementary ABI types are supported; the batched reads in this
// system never return tuples.
func parseSignature(sig string) (selectorSig string, inputs, outputs abi.Arguments, err error) {
	open := strings.IndexByte(sig, '(')
	if open <= 0 {
		return "", nil, nil, fmt.Errorf("malformed signature %q", sig)
	}
	closeIn := strings.IndexByte(sig, ')')
	if closeIn < open {
		return "", nil, nil, fmt.Errorf("malformed signature %q", sig)
	}

	outPart := sig[closeIn+1:]
	if !strings.HasPrefix(outPart, "(") || !strings.HasSuffix(outPart, ")") {
		return "", nil, nil, fmt.Errorf("signature %q lacks return types", sig)
	}

	inputs, err = parseTypeList(sig[open+1 : closeIn])
	if err != nil {
		return "", nil, nil, fmt.Errorf("signature %q inputs: %w", sig, err)
	}
	outputs, err = parseTypeList(outPart[1 : len(outPart)-1])
	if err != nil {
		return "", nil, nil, fmt.Errorf("signature %q outputs: %w", sig, err)
	}

	return sig[:closeIn+1], inputs, outputs, nil
}

func parseTypeList(list string) (abi.Arguments, error) {
	list = strings.TrimSpace(list)
	if list == "" {
		return nil, nil
	}

	parts := strings.Split(list, ",")
	args := make(abi.Arguments, 0, len(parts))
	for _, part := range parts {
		typ, err := abi.NewType(strings.TrimSpace(part), "", nil)
		if err != nil {
			return nil, fmt.Errorf("type %q: %w", part, err)
		}
		args = append(args, abi.Argument{Type: typ})
	}
	return args, nil
}

// encodeCall builds the ABI-encoded calldata for one call descriptor and
// returns the output argument list needed to decode its result.
func encodeCall(call Call) ([]byte, abi.Arguments, error) {
	selectorSig, inputs, outputs, err := parseSignature(call.Method)
	if err != nil {
		return nil, nil, err
	}
	if len(call.Args) != len(inputs) {
		return nil, nil, fmt.Errorf("call %q: %d args for %d inputs", call.Method, len(call.Args), len(inputs))
	}

	args := make([]any, len(call.Args))
	for i, arg := range call.Args {
		args[i] = coerceArg(inputs[i].Type, arg)
	}

	packed, err := inputs.Pack(args...)
	if err != nil {
		return nil, nil, fmt.Errorf("call %q: pack args: %w", call.Method, err)
	}

	selector := crypto.Keccak256([]byte(selectorSig))[:4]
	return append(selector, packed...), outputs, nil
}

// coerceArg widens common Go integer values to *big.Int for uint256-style
// parameters so callers can pass plain ints for ids and amounts.
func coerceArg(typ abi.Type, v any) any {
	if typ.T != abi.UintTy || typ.Size <= 64 {
		return v
	}
	switch n := v.(type) {
	case int:
		return big.NewInt(int64(n))
	case int64:
		return big.NewInt(n)
	case uint64:
		return new(big.Int).SetUint64(n)
	default:
		return v
	}
}
