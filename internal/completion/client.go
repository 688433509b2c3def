// Package completion calls a remote chat-completion API under one overall
// deadline, retrying transport failures a bounded number of times.
package completion

import (
	"context"
	"errors"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/webgpt-go/internal/chat"
	"github.com/comigor/webgpt-go/internal/config"
	"github.com/comigor/webgpt-go/internal/llm"
	"github.com/comigor/webgpt-go/internal/logger"
	"github.com/comigor/webgpt-go/internal/metrics"
)

// Outcome is how a completion call ended.
type Outcome string

const (
	OutcomeSucceeded        Outcome = "succeeded"
	OutcomeNonRetryable     Outcome = "non_retryable"
	OutcomeRetriesExhausted Outcome = "retries_exhausted"
	OutcomeTimeout          Outcome = "timeout"
)

// ErrNoChoices is returned for a successful response without any choice.
// It is treated like any other transport failure and retried.
var ErrNoChoices = errors.New("completion response has no choices")

// RetryPolicy bounds a completion call.
//
// MaxRetries is the number of consecutive transport failures tolerated: the
// call gives up once the failure counter reaches MaxRetries, so at most
// max(MaxRetries, 1) attempts are made. Error statuses from the API are never
// retried. Timeout bounds the whole call, retries included.
type RetryPolicy struct {
	MaxRetries int
	Timeout    time.Duration
}

// DefaultPolicy matches the defaults of the configuration layer.
var DefaultPolicy = RetryPolicy{MaxRetries: config.DefaultMaxRetries, Timeout: config.DefaultTimeout}

// PolicyFromConfig converts the retry section of the configuration.
func PolicyFromConfig(cfg config.RetryConfig) RetryPolicy {
	return RetryPolicy{MaxRetries: cfg.MaxRetries, Timeout: cfg.Timeout}.normalize()
}

func (p RetryPolicy) normalize() RetryPolicy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.Timeout <= 0 {
		p.Timeout = config.DefaultTimeout
	}
	return p
}

// Result is the typed outcome of a completion call.
type Result struct {
	Content  string
	Outcome  Outcome
	Attempts int
	// Err is the last error seen; nil on success.
	Err error
}

// OK reports whether the call produced a reply.
func (r Result) OK() bool { return r.Outcome == OutcomeSucceeded }

// Client is the remote completion client.
type Client struct {
	api     llm.Client
	model   string
	policy  RetryPolicy
	metrics *metrics.Metrics
}

type Option func(*Client)

// WithMetrics records every call in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New creates a client sending every request with the given model.
func New(api llm.Client, model string, policy RetryPolicy, opts ...Option) *Client {
	if model == "" {
		model = config.DefaultModel
	}
	c := &Client{
		api:    api,
		model:  model,
		policy: policy.normalize(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete returns the assistant reply for the transcript. ok is false when
// the call timed out, ran out of retries or was rejected by the API; the
// reason is only logged.
func (c *Client) Complete(ctx context.Context, transcript []chat.Message) (string, bool) {
	res := c.Do(ctx, transcript)
	return res.Content, res.OK()
}

// Do runs one completion call and reports how it ended.
func (c *Client) Do(ctx context.Context, transcript []chat.Message) Result {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.policy.Timeout)
	defer cancel()

	fsm := newCallMachine(func(ctx context.Context, retries int) {
		logger.L.Debug("chat/completions attempt", "retries", retries)
	})
	fire := func(t trigger, args ...any) {
		if err := fsm.Fire(t, args...); err != nil {
			logger.L.Warn("completion FSM fire error", "trigger", t, "error", err)
		}
	}

	req := c.request(transcript)
	var res Result
	retries := 0
	next := triggerAttempt
	for {
		if err := ctx.Err(); err != nil {
			res.Err = err
			fire(triggerDeadline)
			break
		}

		fire(next, retries)
		res.Attempts++
		content, err := c.attempt(ctx, req)
		if err == nil {
			res.Content = content
			res.Err = nil
			fire(triggerReplied)
			break
		}
		res.Err = err

		if ctx.Err() != nil {
			fire(triggerDeadline)
			break
		}
		if status, ok := errorStatus(err); ok {
			logger.L.Warn("completion rejected", "status", status, "error", err)
			fire(triggerRejected)
			break
		}

		logger.L.Error("completion attempt failed", "error", err, "retries", retries)
		retries++
		if retries >= c.policy.MaxRetries {
			fire(triggerExhausted)
			break
		}
		next = triggerRetry
	}

	outcome, ok := outcomeOf(fsm)
	if !ok {
		// only reachable if a Fire was refused
		outcome = OutcomeRetriesExhausted
	}
	res.Outcome = outcome

	switch outcome {
	case OutcomeSucceeded:
		logger.L.Debug("completion succeeded", "attempts", res.Attempts)
	case OutcomeTimeout:
		logger.L.Error("completion timed out", "timeout", c.policy.Timeout, "attempts", res.Attempts)
	case OutcomeRetriesExhausted:
		logger.L.Error("completion retries exhausted", "max_retries", c.policy.MaxRetries, "error", res.Err)
	}
	c.metrics.ObserveCompletion(string(outcome), res.Attempts, time.Since(start))

	return res
}

func (c *Client) request(transcript []chat.Message) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, len(transcript))
	for i, m := range transcript {
		messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	}
}

func (c *Client) attempt(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return resp.Choices[0].Message.Content, nil
}

// errorStatus extracts the HTTP status of a response other than 200 OK.
// Errors without one (transport, decoding) are retry-eligible.
func errorStatus(err error) (int, bool) {
	var statusErr *llm.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode, true
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return apiErr.HTTPStatusCode, true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return reqErr.HTTPStatusCode, true
	}
	return 0, false
}
