package anthropic

import (
	"context"
	"regexp"
)

// CallInfo carries per-call metadata (role, round) for the gateway's
// structured logs. Attached via context so the LLMClient interface stays
// a plain prompt-in/text-out contract.
type CallInfo struct {
	Role  string
	Round int
}

type callInfoKey struct{}

// WithCallInfo attaches role/round metadata to the context.
func WithCallInfo(ctx context.Context, role string, round int) context.Context {
	return context.WithValue(ctx, callInfoKey{}, CallInfo{Role: role, Round: round})
}

func callInfoFrom(ctx context.Context) CallInfo {
	if info, ok := ctx.Value(callInfoKey{}).(CallInfo); ok {
		return info
	}
	return CallInfo{}
}

// secretPattern matches credential-shaped key/value fragments so error
// strings never leak keys into logs.
var secretPattern = regexp.MustCompile(`(?i)(api[_-]?key|password|token|authorization|secret)\s*[:=]\s*\S+`)

// MaskSecrets replaces credential values in a string with a placeholder.
func MaskSecrets(s string) string {
	return secretPattern.ReplaceAllString(s, "$1=***")
}
