// Package llm streams chat completions from a language-model backend.
package llm

import (
	"context"
	"errors"

	"github.com/hyperjump/doctalk/internal/models"
)

// ErrModel wraps every failure reported by the model backend.
var ErrModel = errors.New("model error")

// Chunk is one streamed fragment. A chunk with Err set is the last value on the channel.
type Chunk struct {
	Content string
	Err     error
}

// ChatClient sends a role-tagged message sequence to a model and streams the reply.
// The returned channel is closed when the reply is complete, after an error chunk,
// or when ctx is done.
type ChatClient interface {
	ChatStream(ctx context.Context, messages []models.Turn) (<-chan Chunk, error)
}
