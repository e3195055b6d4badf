package chain

import (
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"context"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// multicall3ABIJSON is the subset of the Multicall3 interface the batcher
// uses. tryAggregate with requireSuccess=false yields a per-call success flag
// so one reverting read never aborts its siblings.
const multicall3ABIJSON = `[{"inputs":[{"internalType":"bool","name":"requireSuccess","type":"bool"},{"components":[{"internalType":"address","name":"target","type":"address"},{"internalType":"bytes","name":"callData","type":"bytes"}],"internalType":"struct Multicall3.Call[]","name":"calls","type":"tuple[]"}],"name":"tryAggregate","outputs":[{"components":[{"internalType":"bool","name":"success","type":"bool"},{"internalType":"bytes","name":"returnData","type":"bytes"}],"internalType":"struct Multicall3.Result[]","name":"returnData","type":"tuple[]"}],"stateMutability":"payable","type":"function"}]`

// Call describes one independent contract read inside a batch. Method is a
// full function signature with input and output types, for example
// "getAmountOut(uint256,address,address)(uint256,bool)". Fields names each
// decoded return value in the batch result; a call with fewer fields than
// return values only surfaces the named prefix.
type Call struct {
	Target common.Address
	Method string
	Args   []any
	Fields []string
}

// Result maps caller-assigned field names to decoded values. Field ordering
// is not preserved; only name-keyed lookup is guaranteed. A field is absent
// when its call reverted or its return data could not be decoded.
type Result map[string]any

// BigInt returns the named field as *big.Int.
func (r Result) BigInt(field string) (*big.Int, bool) {
	v, ok := r[field].(*big.Int)
	return v, ok
}

// Uint64 returns the named field as uint64, accepting any unsigned ABI
// integer width.
func (r Result) Uint64(field string) (uint64, bool) {
	switch v := r[field].(type) {
	case *big.Int:
		if v.IsUint64() {
			return v.Uint64(), true
		}
		return 0, false
	case uint8:
		return uint64(v), true
	case uint16:
		return uint64(v), true
	case uint32:
		return uint64(v), true
	case uint64:
		return v, true
	default:
		return 0, false
	}
}

// Address returns the named field as a contract address.
func (r Result) Address(field string) (common.Address, bool) {
	v, ok := r[field].(common.Address)
	return v, ok
}

// Bool returns the named field as a bool.
func (r Result) Bool(field string) (bool, bool) {
	v, ok := r[field].(bool)
	return v, ok
}

// String returns the named field as a string.
func (r Result) String(field string) (string, bool) {
	v, ok := r[field].(string)
	return v, ok
}

// Has reports whether the named field decoded successfully.
func (r Result) Has(field string) bool {
	_, ok := r[field]
	return ok
}

// BatchCaller executes a batch of contract reads in one round trip. It is
// implemented by *Caller and by test fakes.
type BatchCaller interface {
	Execute(ctx context.Context, calls []Call) (Result, error)
}

// mc3Call and mc3Result mirror the Multicall3 tuple layouts; the field names
// must match the ABI component names for go-ethereum's reflection-based
// packing.
type mc3Call struct {
	Target   common.Address
	CallData []byte
}

type mc3Result struct {
	Success    bool
	ReturnData []byte
}

// Caller batches contract reads through a deployed Multicall3 contract.
// It performs no retries; retry policy belongs to callers.
type Caller struct {
	backend  ContractBackend
	contract common.Address
	cABI     abi.ABI
	logger   *slog.Logger
}

// NewCaller creates a batcher bound to the given Multicall3 deployment.
func NewCaller(backend ContractBackend, contract common.Address, logger *slog.Logger) (*Caller, error) {
	cABI, err := abi.JSON(strings.NewReader(multicall3ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("chain: parse multicall ABI: %w", err)
	}
	return &Caller{
		backend:  backend,
		contract: contract,
		cABI:     cABI,
		logger:   logger.With(slog.String("component", "multicall")),
	}, nil
}

// Execute runs all calls as a single eth_call against the Multicall3
// contract and decodes each return value under its field name. A call that
// cannot be encoded, reverts on chain, or fails to decode simply contributes
// no fields; only a transport-level failure returns an error.
func (c *Caller) Execute(ctx context.Context, calls []Call) (Result, error) {
	type pending struct {
		call    Call
		outputs abi.Arguments
	}

	mcCalls := make([]mc3Call, 0, len(calls))
	pendings := make([]pending, 0, len(calls))

	for _, call := range calls {
		data, outputs, err := encodeCall(call)
		if err != nil {
			c.logger.Warn("skipping unencodable call",
				slog.String("target", call.Target.Hex()),
				slog.String("method", call.Method),
				slog.String("error", err.Error()),
			)
			continue
		}
		mcCalls = append(mcCalls, mc3Call{Target: call.Target, CallData: data})
		pendings = append(pendings, pending{call: call, outputs: outputs})
	}

	result := Result{}
	if len(mcCalls) == 0 {
		return result, nil
	}

	payload, err := c.cABI.Pack("tryAggregate", false, mcCalls)
	if err != nil {
		return nil, fmt.Errorf("chain: pack tryAggregate: %w", err)
	}

	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: multicall eth_call: %w", err)
	}

	unpacked, err := c.cABI.Unpack("tryAggregate", raw)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack tryAggregate: %w", err)
	}
	results := *abi.ConvertType(unpacked[0], new([]mc3Result)).(*[]mc3Result)
	if len(results) != len(pendings) {
		return nil, fmt.Errorf("chain: multicall returned %d results for %d calls", len(results), len(pendings))
	}

	for i, res := range results {
		p := pendings[i]
		if !res.Success || len(res.ReturnData) == 0 {
			c.logger.Debug("call reverted",
				slog.String("target", p.call.Target.Hex()),
				slog.String("method", p.call.Method),
			)
			continue
		}

		values, err := p.outputs.Unpack(res.ReturnData)
		if err != nil || len(values) < len(p.call.Fields) {
			c.logger.Debug("call return data undecodable",
				slog.String("target", p.call.Target.Hex()),
				slog.String("method", p.call.Method),
			)
			continue
		}

		for j, field := range p.call.Fields {
			if field == "" {
				continue
			}
			result[field] = values[j]
		}
	}

	return result, nil
}

var _ BatchCaller = (*Caller)(nil)
