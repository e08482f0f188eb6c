// Package reply declares the reply-generation capability and its providers.
// The actor delegates all language generation here so the conversational core
// stays deterministic under test.
package reply

import (
	"context"
	"fmt"
)

// ContextTurn is one prior exchange handed to the generator for continuity.
type ContextTurn struct {
	ChildInput string
	Response   string
}

// Generator produces the companion's reply to a child's input.
type Generator interface {
	Generate(ctx context.Context, window []ContextTurn, childInput string) (string, error)
}

// Greeting is the fixed reply returned when a session starts.
const Greeting = "こんにちは！いっしょにおはなししよう！"

// =============================================================================
// Mock Generator
// =============================================================================

// Mock is the rule-based generator used when no LLM provider is configured.
// Its reply always embeds the child's input verbatim.
type Mock struct{}

// Generate implements Generator.
func (Mock) Generate(_ context.Context, _ []ContextTurn, childInput string) (string, error) {
	if childInput == "" {
		return "きこえたよ。もういっかい、おはなしして？", nil
	}
	return fmt.Sprintf("「%s」っていったね。もっとおしえて！", childInput), nil
}
