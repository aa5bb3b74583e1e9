// Package delivery sends reply text to a user through the Messenger Send API.
//
// Send is fire-and-forget: failures are logged and reported in the Receipt,
// never returned as errors, and nothing is retried.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/teilomillet/relay/config"
	"github.com/teilomillet/relay/errors"
	"github.com/teilomillet/relay/locale"
	"github.com/teilomillet/relay/server/metrics"
	"go.uber.org/zap"
)

const service = "delivery"

// MaxMessageLength is the platform's limit on message text, in characters.
const MaxMessageLength = 2000

const ellipsis = "..."

// maxErrorBody bounds how much of a failed response is read for logging.
const maxErrorBody = 4096

// SendRequest is the JSON body of a send call.
type SendRequest struct {
	Recipient Recipient   `json:"recipient"`
	Message   MessageText `json:"message"`
}

// Recipient addresses the user by page-scoped ID.
type Recipient struct {
	ID string `json:"id"`
}

// MessageText is a plain text message.
type MessageText struct {
	Text string `json:"text"`
}

// Receipt reports what happened to one send. Text is the text actually
// submitted after normalisation.
type Receipt struct {
	Delivered bool
	Failure   errors.ErrorType
	Status    int
	Text      string
	Err       error
}

// Sender delivers text to a recipient.
type Sender interface {
	Send(ctx context.Context, recipientID, text string) Receipt
}

// Client posts to {graph_url}/{api_version}/me/messages.
type Client struct {
	cfg      config.DeliveryConfig
	catalog  locale.Catalog
	endpoint string

	http    *retryablehttp.Client
	metrics *metrics.Metrics
	logger  *zap.Logger
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

// WithHTTPClient sends through a copy of hc. The copy's Timeout is
// overridden by cfg.Timeout when that is set; hc itself is left untouched.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			clone := *hc
			c.http.HTTPClient = &clone
		}
	}
}

// NewClient builds a Client for cfg. catalog supplies the text sent when a
// reply is empty.
func NewClient(cfg config.DeliveryConfig, catalog locale.Catalog, opts ...Option) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 0
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		return false, nil
	}
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	c := &Client{
		cfg:      cfg,
		catalog:  catalog,
		endpoint: strings.TrimRight(cfg.GraphURL, "/") + "/" + cfg.APIVersion + "/me/messages",
		http:     rc,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	rc.Logger = leveledLogger{c.logger.Sugar()}
	if cfg.Timeout > 0 {
		rc.HTTPClient.Timeout = cfg.Timeout
	}

	return c
}

// Normalize applies the empty-text substitution and the length cap.
func Normalize(text string, catalog locale.Catalog) string {
	if strings.TrimSpace(text) == "" {
		return catalog.NoResponse
	}
	return Truncate(text)
}

// Truncate caps text at MaxMessageLength characters, replacing the tail of
// longer text with an ellipsis.
func Truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= MaxMessageLength {
		return text
	}
	return string(runes[:MaxMessageLength-len(ellipsis)]) + ellipsis
}

// Send submits text to recipientID. It makes at most one request.
func (c *Client) Send(ctx context.Context, recipientID, text string) Receipt {
	text = Normalize(text, c.catalog)

	if c.cfg.PageAccessToken == "" {
		err := errors.NewConfigError(service, "PAGE_ACCESS_TOKEN not set")
		errors.LogError(c.logger, err, "")
		return Receipt{Failure: err.Type, Text: text, Err: err}
	}

	start := time.Now()
	receipt := c.send(ctx, recipientID, text)
	c.metrics.ObserveDelivery(time.Since(start).Seconds(), string(receipt.Failure))

	if receipt.Delivered {
		c.logger.Info("Message sent",
			zap.String("recipient_id", recipientID),
			zap.Int("text_length", len([]rune(text))),
			zap.Duration("duration", time.Since(start)),
		)
	}
	return receipt
}

func (c *Client) send(ctx context.Context, recipientID, text string) Receipt {
	payload, err := json.Marshal(SendRequest{
		Recipient: Recipient{ID: recipientID},
		Message:   MessageText{Text: text},
	})
	if err != nil {
		return c.fail(errors.NewError(errors.InternalError, "encode send request", http.StatusInternalServerError, "", nil, err), text, 0)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.requestURL(), bytes.NewReader(payload))
	if err != nil {
		return c.fail(errors.NewError(errors.InternalError, "build send request", http.StatusInternalServerError, "", nil, err), text, 0)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if resp == nil {
		if err == nil {
			err = stderrors.New("no response")
		}
		return c.fail(classify(scrub(err)), text, 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Error("Send API rejected message",
			zap.String("recipient_id", recipientID),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body),
		)
		return c.fail(errors.NewUpstreamStatusError(service, resp.StatusCode, nil), text, resp.StatusCode)
	}

	io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	return Receipt{Delivered: true, Status: resp.StatusCode, Text: text}
}

func (c *Client) requestURL() string {
	return c.endpoint + "?" + url.Values{"access_token": {c.cfg.PageAccessToken}}.Encode()
}

func (c *Client) fail(err *errors.RelayError, text string, status int) Receipt {
	errors.LogError(c.logger, err, "")
	return Receipt{Failure: err.Type, Status: status, Text: text, Err: err}
}

func classify(err error) *errors.RelayError {
	var netErr net.Error
	if stderrors.Is(err, context.DeadlineExceeded) || (stderrors.As(err, &netErr) && netErr.Timeout()) {
		return errors.NewTimeoutError(service, err)
	}
	return errors.NewTransportError(service, err)
}

// scrub removes the query string (which carries the page token) from URLs
// embedded in transport errors.
func scrub(err error) error {
	var urlErr *url.Error
	if stderrors.As(err, &urlErr) {
		urlErr.URL = redact(urlErr.URL)
	}
	return err
}

func redact(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i] + "?REDACTED"
	}
	return raw
}
