package chain

import (
	"context"
	"log/slog"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockBackend satisfies ContractBackend with a scripted response.
type mockBackend struct {
	calls    int
	lastData []byte
	respond  func() ([]byte, error)
}

func (m *mockBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	m.calls++
	m.lastData = msg.Data
	return m.respond()
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// packResults encodes a tryAggregate response the way the contract would.
func packResults(t *testing.T, results []mc3Result) []byte {
	t.Helper()
	cABI, err := abi.JSON(strings.NewReader(multicall3ABIJSON))
	require.NoError(t, err)
	out, err := cABI.Methods["tryAggregate"].Outputs.Pack(results)
	require.NoError(t, err)
	return out
}

// packReturn encodes a single call's return data for the given type list.
func packReturn(t *testing.T, types string, values ...any) []byte {
	t.Helper()
	args, err := parseTypeList(types)
	require.NoError(t, err)
	data, err := args.Pack(values...)
	require.NoError(t, err)
	return data
}

func TestParseSignature(t *testing.T) {
	selectorSig, inputs, outputs, err := parseSignature("getAmountOut(uint256,address,address)(uint256,bool)")
	require.NoError(t, err)
	assert.Equal(t, "getAmountOut(uint256,address,address)", selectorSig)
	assert.Len(t, inputs, 3)
	assert.Len(t, outputs, 2)

	selectorSig, inputs, outputs, err = parseSignature("decimals()(uint8)")
	require.NoError(t, err)
	assert.Equal(t, "decimals()", selectorSig)
	assert.Empty(t, inputs)
	assert.Len(t, outputs, 1)

	for _, sig := range []string{"", "noparens", "(uint256)", "name(uint256)", "name(notatype)(uint256)"} {
		_, _, _, err := parseSignature(sig)
		assert.Error(t, err, "signature %q", sig)
	}
}

func TestEncodeCallCoercesIntegers(t *testing.T) {
	target := common.HexToAddress("0x01")

	// Plain Go integers must be widened for uint256 parameters.
	for _, arg := range []any{int(7), int64(7), uint64(7)} {
		data, outputs, err := encodeCall(Call{
			Target: target,
			Method: "allPairs(uint256)(address)",
			Args:   []any{arg},
		})
		require.NoError(t, err)
		assert.Len(t, data, 4+32)
		assert.Len(t, outputs, 1)
	}
}

func TestExecuteDecodesFields(t *testing.T) {
	target := common.HexToAddress("0xaa")
	backend := &mockBackend{}
	backend.respond = func() ([]byte, error) {
		return packResults(t, []mc3Result{
			{Success: true, ReturnData: packReturn(t, "uint8", uint8(6))},
			{Success: true, ReturnData: packReturn(t, "string", "USDC")},
			{Success: true, ReturnData: packReturn(t, "uint256,bool", big.NewInt(42), true)},
		}), nil
	}

	caller, err := NewCaller(backend, common.HexToAddress("0xcc"), testLogger())
	require.NoError(t, err)

	res, err := caller.Execute(context.Background(), []Call{
		{Target: target, Method: "decimals()(uint8)", Fields: []string{"dec"}},
		{Target: target, Method: "symbol()(string)", Fields: []string{"sym"}},
		{Target: target, Method: "getAmountOut(uint256,address,address)(uint256,bool)",
			Args:   []any{big.NewInt(1), target, target},
			Fields: []string{"amount", "stable"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, backend.calls, "batch must be a single eth_call")

	dec, ok := res.Uint64("dec")
	require.True(t, ok)
	assert.Equal(t, uint64(6), dec)

	sym, ok := res.String("sym")
	require.True(t, ok)
	assert.Equal(t, "USDC", sym)

	amount, ok := res.BigInt("amount")
	require.True(t, ok)
	assert.Equal(t, int64(42), amount.Int64())

	stable, ok := res.Bool("stable")
	require.True(t, ok)
	assert.True(t, stable)
}

func TestExecuteIsolatesRevertedCalls(t *testing.T) {
	target := common.HexToAddress("0xaa")
	backend := &mockBackend{}
	backend.respond = func() ([]byte, error) {
		return packResults(t, []mc3Result{
			{Success: true, ReturnData: packReturn(t, "uint8", uint8(18))},
			{Success: false},
		}), nil
	}

	caller, err := NewCaller(backend, common.HexToAddress("0xcc"), testLogger())
	require.NoError(t, err)

	res, err := caller.Execute(context.Background(), []Call{
		{Target: target, Method: "decimals()(uint8)", Fields: []string{"dec"}},
		{Target: target, Method: "symbol()(string)", Fields: []string{"sym"}},
	})
	require.NoError(t, err)

	assert.True(t, res.Has("dec"))
	assert.False(t, res.Has("sym"))
}

func TestExecuteSkipsUnencodableCalls(t *testing.T) {
	target := common.HexToAddress("0xaa")
	backend := &mockBackend{}
	backend.respond = func() ([]byte, error) {
		// Only the valid call reaches the chain.
		return packResults(t, []mc3Result{
			{Success: true, ReturnData: packReturn(t, "uint8", uint8(18))},
		}), nil
	}

	caller, err := NewCaller(backend, common.HexToAddress("0xcc"), testLogger())
	require.NoError(t, err)

	res, err := caller.Execute(context.Background(), []Call{
		{Target: target, Method: "bogus", Fields: []string{"nope"}},
		{Target: target, Method: "decimals()(uint8)", Fields: []string{"dec"}},
	})
	require.NoError(t, err)

	assert.False(t, res.Has("nope"))
	assert.True(t, res.Has("dec"))
}

func TestExecuteEmptyBatchSkipsBackend(t *testing.T) {
	backend := &mockBackend{}
	backend.respond = func() ([]byte, error) {
		t.Fatal("backend must not be called for an empty batch")
		return nil, nil
	}

	caller, err := NewCaller(backend, common.HexToAddress("0xcc"), testLogger())
	require.NoError(t, err)

	res, err := caller.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res)
	assert.Zero(t, backend.calls)
}

func TestToUnits(t *testing.T) {
	assert.InDelta(t, 1.5, ToUnits(big.NewInt(1_500_000), 6), 1e-9)
	assert.InDelta(t, 0, ToUnits(nil, 18), 1e-9)

	wei := new(big.Int).Mul(big.NewInt(25), Pow10(17)) // 2.5 ether
	assert.InDelta(t, 2.5, ToUnits(wei, 18), 1e-9)
}
