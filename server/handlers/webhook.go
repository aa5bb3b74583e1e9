// Package handlers provides the HTTP handlers of the relay server: the
// Messenger webhook (verification and event ingestion), liveness and health.
//
// The webhook handler always answers. Events are relayed one at a time, in
// payload order, and the platform gets its status only after every event
// has been through completion and delivery.
package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/teilomillet/relay/config"
	"github.com/teilomillet/relay/errors"
	"github.com/teilomillet/relay/server/completion"
	"github.com/teilomillet/relay/server/delivery"
	"github.com/teilomillet/relay/server/metrics"
	"github.com/teilomillet/relay/server/middleware"
	"go.uber.org/zap"
)

// PageObject is the only event envelope the relay processes.
const PageObject = "page"

// Response bodies expected by the platform.
const (
	bodyOK                 = "OK"
	bodyError              = "Error"
	bodyVerificationFailed = "Verification failed"
)

// Event outcomes, used as the relay_webhook_events_total label.
const (
	OutcomeRelayed   = "relayed"
	OutcomeNoMessage = "no_message"
	OutcomeNoText    = "no_text"
	OutcomeEcho      = "echo"
	OutcomeNoSender  = "no_sender"
)

// WebhookEvent is the envelope the platform posts to the webhook.
type WebhookEvent struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups the messaging events of one page.
type Entry struct {
	ID        string           `json:"id"`
	Time      int64            `json:"time"`
	Messaging []MessagingEvent `json:"messaging"`
}

// MessagingEvent is one interaction. Only events with message text are
// relayed; reads, deliveries and postbacks arrive without Message.
type MessagingEvent struct {
	Sender    *Participant `json:"sender"`
	Recipient *Participant `json:"recipient"`
	Timestamp int64        `json:"timestamp"`
	Message   *Message     `json:"message"`
}

// Participant identifies the sender or recipient of an event.
type Participant struct {
	ID string `json:"id"`
}

// Message is the message part of an event. Text is absent for attachments.
type Message struct {
	MID         string       `json:"mid"`
	Text        string       `json:"text"`
	IsEcho      bool         `json:"is_echo"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is a non-text part of a message; its payload is kept raw.
type Attachment struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WebhookHandler serves GET and POST /webhook.
type WebhookHandler struct {
	cfg       config.WebhookConfig
	completer completion.Completer
	sender    delivery.Sender
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewWebhookHandler wires the handler to its collaborators. m may be nil.
func NewWebhookHandler(cfg config.WebhookConfig, completer completion.Completer, sender delivery.Sender, m *metrics.Metrics, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{
		cfg:       cfg,
		completer: completer,
		sender:    sender,
		metrics:   m,
		logger:    logger,
	}
}

// Verify answers the platform's subscription handshake with the challenge
// when the verify token matches.
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := queryParam(q, "mode")
	token := queryParam(q, "verify_token")
	challenge := queryParam(q, "challenge")

	logger := h.logger.With(zap.String("request_id", middleware.GetRequestID(r.Context())))
	logger.Debug("Webhook verification request",
		zap.String("mode", mode),
		zap.Bool("token_present", token != ""),
		zap.Bool("challenge_present", challenge != ""),
	)

	ok := h.verify(mode, token)
	h.metrics.CountVerification(ok)
	if !ok {
		logger.Warn("Webhook verification failed", zap.String("mode", mode))
		writeText(w, http.StatusForbidden, bodyVerificationFailed)
		return
	}

	logger.Info("Webhook verified successfully")
	writeText(w, http.StatusOK, challenge)
}

func (h *WebhookHandler) verify(mode, token string) bool {
	if h.cfg.VerifyToken == "" {
		return false
	}
	if h.cfg.RequireSubscribeMode && mode != "subscribe" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.cfg.VerifyToken)) == 1
}

// queryParam prefers the "hub."-prefixed form of name.
func queryParam(q map[string][]string, name string) string {
	if v, ok := q["hub."+name]; ok && len(v) > 0 {
		return v[0]
	}
	if v, ok := q[name]; ok && len(v) > 0 {
		return v[0]
	}
	return ""
}

// Receive relays every text message in the payload and then answers OK.
// An undecodable payload, or one not addressed to a page, is answered with
// 500 and triggers no outbound calls.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	logger := h.logger.With(zap.String("request_id", requestID))

	if h.cfg.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	}

	var event WebhookEvent
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&event); err != nil {
		h.reject(w, logger, errors.NewInvalidPayloadError(requestID, "payload is not valid JSON", err))
		return
	}
	if _, err := dec.Token(); err != io.EOF {
		h.reject(w, logger, errors.NewInvalidPayloadError(requestID, "payload has trailing data after the JSON value", err))
		return
	}
	if event.Object != PageObject {
		h.reject(w, logger, errors.NewInvalidPayloadError(requestID, "unsupported object "+quote(event.Object), nil))
		return
	}

	logger.Info("Webhook payload received", zap.Int("entries", len(event.Entry)))

	// The platform may drop the connection before a slow completion
	// finishes; the relay still answers the user.
	ctx := context.WithoutCancel(r.Context())

	for _, entry := range event.Entry {
		for _, ev := range entry.Messaging {
			outcome := h.handleEvent(ctx, logger, ev)
			h.metrics.CountEvent(outcome)
		}
	}

	writeText(w, http.StatusOK, bodyOK)
}

func (h *WebhookHandler) reject(w http.ResponseWriter, logger *zap.Logger, err *errors.RelayError) {
	errors.LogError(logger, err, err.RequestID)
	if h.metrics != nil {
		h.metrics.ErrorsTotal.WithLabelValues(string(err.Type)).Inc()
	}
	writeText(w, http.StatusInternalServerError, bodyError)
}

// handleEvent relays one messaging event and reports what happened to it.
func (h *WebhookHandler) handleEvent(ctx context.Context, logger *zap.Logger, ev MessagingEvent) string {
	if ev.Message == nil {
		logger.Debug("Skipping event without message")
		return OutcomeNoMessage
	}
	if ev.Message.IsEcho {
		logger.Debug("Skipping echo of page message", zap.String("mid", ev.Message.MID))
		return OutcomeEcho
	}
	if strings.TrimSpace(ev.Message.Text) == "" {
		logger.Debug("Skipping message without text",
			zap.String("mid", ev.Message.MID),
			zap.Int("attachments", len(ev.Message.Attachments)),
		)
		return OutcomeNoText
	}
	if ev.Sender == nil || ev.Sender.ID == "" {
		logger.Warn("Skipping message without sender", zap.String("mid", ev.Message.MID))
		return OutcomeNoSender
	}

	logger = logger.With(zap.String("sender_id", ev.Sender.ID))
	logger.Info("Received message", zap.Int("text_length", len(ev.Message.Text)))

	reply := h.completer.Complete(ctx, ev.Message.Text)
	if !reply.OK() {
		logger.Warn("Sending fallback reply", zap.String("error_type", string(reply.Failure)))
	}

	receipt := h.sender.Send(ctx, ev.Sender.ID, reply.Text)
	if !receipt.Delivered {
		logger.Warn("Reply not delivered", zap.String("error_type", string(receipt.Failure)))
	}

	return OutcomeRelayed
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

func quote(s string) string {
	return `"` + s + `"`
}
