// Package completion turns a user's message into an assistant reply using an
// OpenAI-compatible chat-completion endpoint (OpenRouter by default).
//
// Complete never fails from the caller's point of view: every failure mode is
// classified, logged and answered with a localized fallback reply, so the
// returned text is always something that can be sent to the user.
package completion

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/teilomillet/relay/config"
	"github.com/teilomillet/relay/errors"
	"github.com/teilomillet/relay/locale"
	"github.com/teilomillet/relay/server/circuitbreaker"
	"github.com/teilomillet/relay/server/metrics"
	"go.uber.org/zap"
)

const service = "completion"

// maxErrorBody bounds how much of a rejected response is kept for logging.
const maxErrorBody = 4096

// Reply is the outcome of a completion. Text is never empty. Failure is empty
// when Text came from the model.
type Reply struct {
	Text    string
	Failure errors.ErrorType
	Err     error
}

// OK reports whether the reply came from the model.
func (r Reply) OK() bool {
	return r.Failure == ""
}

// Completer produces a reply for a user's message.
type Completer interface {
	Complete(ctx context.Context, userText string) Reply
}

// chatService is the slice of the OpenAI SDK the client uses.
type chatService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Client calls the completion endpoint once per Complete.
type Client struct {
	cfg          config.CompletionConfig
	catalog      locale.Catalog
	systemPrompt string

	chat       chatService
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records call outcomes and durations on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithBreaker guards calls with b. A nil breaker is allowed.
func WithBreaker(b *circuitbreaker.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = b }
}

// WithHTTPClient replaces the transport used for the endpoint.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient builds a Client for cfg whose fallback replies and default
// system prompt come from catalog.
func NewClient(cfg config.CompletionConfig, catalog locale.Catalog, opts ...Option) *Client {
	c := &Client{
		cfg:          cfg,
		catalog:      catalog,
		systemPrompt: cfg.SystemPrompt,
		logger:       zap.NewNop(),
	}
	if c.systemPrompt == "" {
		c.systemPrompt = catalog.SystemPrompt
	}
	for _, opt := range opts {
		opt(c)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(baseURL(cfg.BaseURL)),
		option.WithMaxRetries(0),
		option.WithMiddleware(requireOK),
	}
	if cfg.Referer != "" {
		reqOpts = append(reqOpts, option.WithHeader("HTTP-Referer", cfg.Referer))
	}
	if cfg.Title != "" {
		reqOpts = append(reqOpts, option.WithHeader("X-Title", cfg.Title))
	}
	if c.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(c.httpClient))
	}

	api := openai.NewClient(reqOpts...)
	c.chat = &api.Chat.Completions

	return c
}

// statusError is returned for any answer other than 200 OK.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("completion endpoint returned status %d: %s", e.code, e.body)
}

// requireOK stops the SDK from decoding anything but a 200 response.
func requireOK(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
	resp, err := next(req)
	if err != nil || resp.StatusCode == http.StatusOK {
		return resp, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return nil, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
}

// baseURL makes sure the SDK resolves "chat/completions" under the
// configured path instead of replacing its last segment.
func baseURL(u string) string {
	if strings.HasSuffix(u, "/") {
		return u
	}
	return u + "/"
}

// Complete returns the model's reply to userText, or a fallback reply.
func (c *Client) Complete(ctx context.Context, userText string) (reply Reply) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			reply = c.fail(errors.NewError(errors.InternalError, "completion panicked", http.StatusInternalServerError, "", nil, fmt.Errorf("panic: %v", r)), c.catalog.Generic)
		}
		if reply.Failure != errors.ConfigError {
			c.metrics.ObserveCompletion(time.Since(start).Seconds(), string(reply.Failure))
		}
	}()

	if c.cfg.APIKey == "" || c.cfg.Model == "" {
		c.logger.Error("Completion not configured",
			zap.Bool("api_key_set", c.cfg.APIKey != ""),
			zap.Bool("model_set", c.cfg.Model != ""),
		)
		return Reply{
			Text:    c.catalog.NotConfigured,
			Failure: errors.ConfigError,
			Err:     errors.NewConfigError(service, "OPENROUTER_API_KEY or MODEL_NAME not set"),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(c.systemPrompt),
			openai.UserMessage(userText),
		},
		MaxTokens:   openai.Int(int64(c.cfg.MaxTokens)),
		Temperature: openai.Float(c.cfg.Temperature),
	}

	c.logger.Debug("Sending message to completion endpoint",
		zap.String("model", c.cfg.Model),
		zap.Int("text_length", len(userText)),
	)

	var resp *openai.ChatCompletion
	err := c.breaker.Execute(func() error {
		var callErr error
		resp, callErr = c.chat.New(ctx, params)
		return callErr
	})
	if err != nil {
		return c.classify(err)
	}

	if resp == nil || len(resp.Choices) == 0 {
		return c.fail(errors.NewInvalidResponseError(service, "response has no choices", nil), c.catalog.InvalidResponse)
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return c.fail(errors.NewEmptyReplyError(), c.catalog.Rephrase)
	}

	c.logger.Info("Completion succeeded",
		zap.String("model", c.cfg.Model),
		zap.Int("reply_length", len(text)),
		zap.Duration("duration", time.Since(start)),
	)
	return Reply{Text: text}
}

// classify maps a failed call onto the fallback the user should see.
func (c *Client) classify(err error) Reply {
	if stderrors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return c.fail(errors.NewCircuitOpenError(service, err), c.catalog.TechnicalDifficulties)
	}

	var statusErr *statusError
	if stderrors.As(err, &statusErr) {
		return c.fail(errors.NewUpstreamStatusError(service, statusErr.code, err), c.catalog.TryLater)
	}

	var apiErr *openai.Error
	if stderrors.As(err, &apiErr) {
		return c.fail(errors.NewUpstreamStatusError(service, apiErr.StatusCode, err), c.catalog.TryLater)
	}

	if isTimeout(err) {
		return c.fail(errors.NewTimeoutError(service, err), c.catalog.TooLong)
	}

	var netErr net.Error
	var urlErr *url.Error
	if stderrors.As(err, &netErr) || stderrors.As(err, &urlErr) || stderrors.Is(err, context.Canceled) {
		return c.fail(errors.NewTransportError(service, err), c.catalog.TechnicalDifficulties)
	}

	return c.fail(errors.NewError(errors.InternalError, "unexpected completion failure", http.StatusInternalServerError, "", nil, err), c.catalog.Generic)
}

func (c *Client) fail(err *errors.RelayError, text string) Reply {
	errors.LogError(c.logger, err, "")
	return Reply{Text: text, Failure: err.Type, Err: err}
}

func isTimeout(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}
