package reply

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMock_EmbedsChildInput(t *testing.T) {
	reply, err := Mock{}.Generate(context.Background(), nil, "こんにちは")
	require.NoError(t, err)
	assert.Contains(t, reply, "こんにちは")
}

func TestMock_EmptyInputPrompt(t *testing.T) {
	reply, err := Mock{}.Generate(context.Background(), nil, "")
	require.NoError(t, err)
	assert.NotEmpty(t, reply)
	assert.NotContains(t, reply, "「」")
}

func TestMock_IgnoresWindow(t *testing.T) {
	window := []ContextTurn{{ChildInput: "ねこ", Response: "にゃー"}}
	reply, err := Mock{}.Generate(context.Background(), window, "うさぎ")
	require.NoError(t, err)
	assert.Contains(t, reply, "うさぎ")
}
