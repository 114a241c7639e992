// Package interfaces defines service contracts for PatentForge
package interfaces

import "context"

// LLMClient is the serialized gateway to the remote generative model.
// Implementations classify failures into the models error kinds and
// retry the retryable ones internally; a returned error is final.
type LLMClient interface {
	// Generate sends one prompt and returns the model's text response.
	// Calls are serialized process-wide: at most one remote request is
	// in flight at any time.
	Generate(ctx context.Context, prompt string) (string, error)
}
