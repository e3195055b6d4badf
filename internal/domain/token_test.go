package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tok := &Token{Address: "0xABCD", LiquidStakedAddress: "0xEF01"}
	tok.Normalize()

	assert.Equal(t, "0xabcd", tok.Address)
	assert.Equal(t, "0xef01", tok.LiquidStakedAddress)
	assert.Equal(t, "UNKNOWN", tok.Name)
	assert.Equal(t, "UNKNOWN", tok.Symbol)
	assert.Equal(t, DefaultDecimals, tok.Decimals)
}

func TestNormalizeKeepsExistingMetadata(t *testing.T) {
	tok := &Token{Address: "0xabcd", Name: "Tether", Symbol: "USDT", Decimals: 6}
	tok.Normalize()

	assert.Equal(t, "Tether", tok.Name)
	assert.Equal(t, "USDT", tok.Symbol)
	assert.Equal(t, 6, tok.Decimals)
}

func TestTokenRegistry(t *testing.T) {
	first := &Token{Address: "0xAA", Symbol: "ONE"}
	dup := &Token{Address: "0xaa", Symbol: "TWO"}
	other := &Token{Address: "0xbb", Symbol: "THREE"}

	reg := NewTokenRegistry([]*Token{first, dup, other, nil, {Address: ""}})

	assert.Equal(t, 2, reg.Len())
	assert.Same(t, first, reg.Find("0xAA"), "duplicates keep the first occurrence")
	assert.Same(t, first, reg.Find("0xaa"))
	assert.Same(t, other, reg.Find("0xBB"))
	assert.Nil(t, reg.Find("0xcc"))
	assert.Nil(t, reg.Find(""))

	tokens := reg.Tokens()
	assert.Equal(t, []string{"0xAA", "0xbb"}, []string{tokens[0].Address, tokens[1].Address})
}
