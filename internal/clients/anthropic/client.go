// Package anthropic provides the serialized, retrying gateway to the
// Claude Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"

	"github.com/bobmcallan/patentforge/internal/common"
	"github.com/bobmcallan/patentforge/internal/interfaces"
	"github.com/bobmcallan/patentforge/internal/models"
)

const (
	DefaultModel           = "claude-3-5-sonnet-20241022"
	DefaultMaxTokens       = 8192
	DefaultTimeout         = 5 * time.Minute
	DefaultRetryAttempts   = 3
	DefaultRetryDelay      = 5 * time.Second
	DefaultMaxOutputLength = 2 * 1000 * 1000
)

// TruncationTag marks responses cut at the output length cap.
const TruncationTag = "[truncated]"

// Client implements the LLMClient interface over the Anthropic SDK.
// A single mutex serializes remote calls across all workers.
type Client struct {
	api             sdk.Client
	model           string
	maxTokens       int
	timeout         time.Duration
	retryAttempts   int
	retryDelay      time.Duration
	maxOutputLength int
	limiter         *rate.Limiter
	logger          *common.Logger

	mu sync.Mutex
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithModel sets the model to use
func WithModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithMaxTokens sets the per-response token budget
func WithMaxTokens(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithTimeout sets the per-call deadline
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetry sets the retry attempt count and base delay
func WithRetry(attempts int, delay time.Duration) ClientOption {
	return func(c *Client) {
		if attempts > 0 {
			c.retryAttempts = attempts
		}
		if delay > 0 {
			c.retryDelay = delay
		}
	}
}

// WithMaxOutputLength caps response length; longer responses are
// truncated and tagged.
func WithMaxOutputLength(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxOutputLength = n
		}
	}
}

// WithMinCallInterval paces outbound calls so bursts from queued rounds
// do not hammer the upstream.
func WithMinCallInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new Anthropic gateway client
func NewClient(apiKey string, opts ...ClientOption) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, models.NewError(models.ErrLLMAuth, "ANTHROPIC_API_KEY is not configured")
	}

	c := &Client{
		// The SDK retries internally by default; retry policy lives here
		// so attempts can be logged and classified.
		api:             sdk.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(0)),
		model:           DefaultModel,
		maxTokens:       DefaultMaxTokens,
		timeout:         DefaultTimeout,
		retryAttempts:   DefaultRetryAttempts,
		retryDelay:      DefaultRetryDelay,
		maxOutputLength: DefaultMaxOutputLength,
		logger:          common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Generate sends one prompt and returns the model's text. Retryable
// failures (timeout, rate limit, transient network) are retried with
// exponential backoff; auth and quota failures are raised immediately.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return "", models.WrapError(models.ErrLLMTimeout, "call aborted before dispatch", err)
			}
			return "", models.WrapError(models.ErrCancelled, "call aborted before dispatch", err)
		}
	}

	meta := callInfoFrom(ctx)
	start := time.Now()

	var lastErr error
	retries := 0
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			retries++
			delay := c.backoffDelay(attempt, lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", models.WrapError(models.ErrCancelled, "call aborted during backoff", ctx.Err())
			}
		}

		text, err := c.call(ctx, prompt)
		if err == nil {
			text, truncated := c.capOutput(text)
			c.logger.Info().
				Str("role", meta.Role).
				Int("round", meta.Round).
				Int("prompt_len", len(prompt)).
				Int("response_len", len(text)).
				Bool("truncated", truncated).
				Int("retries", retries).
				Dur("elapsed", time.Since(start)).
				Msg("LLM call completed")
			return text, nil
		}

		lastErr = err
		if !models.IsRetryable(err) {
			break
		}

		c.logger.Warn().
			Str("role", meta.Role).
			Int("round", meta.Round).
			Int("attempt", attempt+1).
			Str("error_class", string(models.KindOf(err))).
			Str("error", MaskSecrets(err.Error())).
			Msg("LLM call failed, will retry")
	}

	c.logger.Error().
		Str("role", meta.Role).
		Int("round", meta.Round).
		Int("prompt_len", len(prompt)).
		Int("retries", retries).
		Dur("elapsed", time.Since(start)).
		Str("error_class", string(models.KindOf(lastErr))).
		Str("error", MaskSecrets(lastErr.Error())).
		Msg("LLM call failed")

	return "", lastErr
}

// call performs one attempt against the Messages API.
func (c *Client) call(ctx context.Context, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msg, err := c.api.Messages.New(callCtx, sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: int64(c.maxTokens),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", c.classify(err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", models.NewError(models.ErrLLMTransient, "model returned an empty response")
	}
	return text, nil
}

// capOutput truncates at a rune boundary and tags the cut.
func (c *Client) capOutput(text string) (string, bool) {
	if len(text) <= c.maxOutputLength {
		return text, false
	}
	cut := c.maxOutputLength
	for cut > 0 && !isRuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "\n" + TruncationTag, true
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// backoffDelay computes base*2^(attempt-1), honoring a parseable
// retry-after advisory on rate-limit errors.
func (c *Client) backoffDelay(attempt int, err error) time.Duration {
	if models.IsKind(err, models.ErrLLMRateLimit) {
		if adv := advisoryDelay(err); adv > 0 {
			return adv
		}
	}
	return c.retryDelay * (1 << (attempt - 1))
}

// advisoryDelay extracts a retry-after hint from a rate-limit response.
func advisoryDelay(err error) time.Duration {
	var apierr *sdk.Error
	if !errors.As(err, &apierr) || apierr.Response == nil {
		return 0
	}
	ra := apierr.Response.Header.Get("Retry-After")
	if ra == "" {
		return 0
	}
	if secs, perr := strconv.Atoi(ra); perr == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// classify maps SDK and transport failures onto the error taxonomy.
func (c *Client) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return models.WrapError(models.ErrLLMTimeout, fmt.Sprintf("call exceeded %s", c.timeout), err)
	}
	if errors.Is(err, context.Canceled) {
		return models.WrapError(models.ErrCancelled, "call context cancelled", err)
	}

	var apierr *sdk.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return models.WrapError(models.ErrLLMAuth, "authentication failed, check API key", err)
		case http.StatusTooManyRequests:
			return models.WrapError(models.ErrLLMRateLimit, "rate limited by upstream", err)
		case http.StatusBadRequest:
			if strings.Contains(strings.ToLower(apierr.Error()), "credit") {
				return models.WrapError(models.ErrLLMQuota, "quota exhausted", err)
			}
			return models.WrapError(models.ErrInvalid, "request rejected by upstream", err)
		case http.StatusRequestTimeout:
			return models.WrapError(models.ErrLLMTimeout, "upstream timeout", err)
		default:
			if apierr.StatusCode >= 500 {
				return models.WrapError(models.ErrLLMTransient, fmt.Sprintf("upstream error %d", apierr.StatusCode), err)
			}
			return models.WrapError(models.ErrLLMTransient, "upstream error", err)
		}
	}

	// Anything else is assumed to be a transient transport failure.
	return models.WrapError(models.ErrLLMTransient, "transport error", err)
}

// Ensure Client implements LLMClient
var _ interfaces.LLMClient = (*Client)(nil)
