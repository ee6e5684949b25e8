package main

import (
	"testing"

	"github.com/ethanlolomg/mini-trading-terminal/client"
	"github.com/itchyny/gojq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJQFilterMatching(t *testing.T) {
	event := &client.TradeEvent{
		TradeID:   "3f0c1b9e-8d55-4b8e-9a55-5f9b8f1a2c11",
		Direction: "sell",
		Amount:    "250",
		State:     "confirmed",
		Signature: "sig-1",
	}

	tests := []struct {
		name        string
		jqFilter    string
		expectMatch bool
	}{
		{name: "direction match", jqFilter: `.direction == "sell"`, expectMatch: true},
		{name: "direction mismatch", jqFilter: `.direction == "buy"`, expectMatch: false},
		{name: "amount is a string", jqFilter: `(.amount | tonumber) > 100`, expectMatch: true},
		{name: "contains", jqFilter: `. | contains({state: "confirmed"})`, expectMatch: true},
		{name: "null is falsy", jqFilter: `.error`, expectMatch: false},
		{name: "string is truthy", jqFilter: `.signature`, expectMatch: true},
		{name: "runtime error does not match", jqFilter: `.amount + 1`, expectMatch: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := compileJQ(tt.jqFilter)
			require.NoError(t, err)
			assert.Equal(t, tt.expectMatch, matchesJQ([]*gojq.Code{code}, event))
		})
	}
}

func TestMatchesJQ_AllFiltersMustMatch(t *testing.T) {
	event := &client.TradeEvent{Direction: "buy", State: "failed"}

	isBuy, err := compileJQ(`.direction == "buy"`)
	require.NoError(t, err)
	isConfirmed, err := compileJQ(`.state == "confirmed"`)
	require.NoError(t, err)

	assert.True(t, matchesJQ([]*gojq.Code{isBuy}, event))
	assert.False(t, matchesJQ([]*gojq.Code{isBuy, isConfirmed}, event))
	assert.True(t, matchesJQ(nil, event))
}

func TestCompileJQ_Invalid(t *testing.T) {
	_, err := compileJQ(`.state ==`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse jq filter")
}

func TestRunJQ_MultipleResults(t *testing.T) {
	code, err := compileJQ(`.trades[].state`)
	require.NoError(t, err)

	list := &client.TradeList{Trades: []*client.Trade{{State: "confirmed"}, {State: "submitted"}}}
	results, err := runJQ(code, list)
	require.NoError(t, err)
	assert.Equal(t, []any{"confirmed", "submitted"}, results)
}

func TestIsTruthy(t *testing.T) {
	assert.False(t, isTruthy(nil))
	assert.False(t, isTruthy(false))
	assert.True(t, isTruthy(true))
	assert.True(t, isTruthy(0))
	assert.True(t, isTruthy(""))
	assert.True(t, isTruthy(map[string]any{}))
}
