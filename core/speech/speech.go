// Package speech declares the speech-to-text and text-to-speech capability
// interfaces. Real providers live outside the core; the mocks here keep the
// interactive path deterministic and testable.
package speech

import (
	"context"
	"fmt"

	"github.com/usagi-dev/usagi/core/blob"
)

// SpeechToText transcribes raw audio bytes into text.
type SpeechToText interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// TextToSpeech synthesizes text into audio and returns a blob reference.
type TextToSpeech interface {
	Synthesize(ctx context.Context, text string) (string, error)
}

// =============================================================================
// Mocks
// =============================================================================

// MockSTT returns a fixed transcript regardless of input.
type MockSTT struct {
	Transcript string
}

// Transcribe implements SpeechToText.
func (m *MockSTT) Transcribe(_ context.Context, _ []byte) (string, error) {
	return m.Transcript, nil
}

// MockTTS writes a placeholder payload into the blob store and returns its
// key, so callers exercise the real reference plumbing.
type MockTTS struct {
	Blobs blob.Store
}

// Synthesize implements TextToSpeech.
func (m *MockTTS) Synthesize(ctx context.Context, text string) (string, error) {
	payload := []byte(fmt.Sprintf("tts-placeholder:%s", text))
	key, err := m.Blobs.Put(ctx, "audio/tts", "wav", payload)
	if err != nil {
		return "", fmt.Errorf("synthesize: %w", err)
	}
	return key, nil
}
