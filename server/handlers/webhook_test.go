package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teilomillet/relay/config"
	"github.com/teilomillet/relay/errors"
	"github.com/teilomillet/relay/server/completion"
	"github.com/teilomillet/relay/server/delivery"
	"github.com/teilomillet/relay/server/handlers"
	"github.com/teilomillet/relay/server/metrics"
	"github.com/teilomillet/relay/server/mocks"
	"go.uber.org/zap/zaptest"
)

func newHandler(t *testing.T, cfg config.WebhookConfig) (*handlers.WebhookHandler, *mocks.MockCompleter, *mocks.MockSender, *metrics.Metrics) {
	t.Helper()
	completer := mocks.NewMockCompleter(func(ctx context.Context, text string) completion.Reply {
		return completion.Reply{Text: "reply to " + text}
	})
	sender := mocks.NewMockSender(nil)
	m := metrics.NewMetrics()
	return handlers.NewWebhookHandler(cfg, completer, sender, m, zaptest.NewLogger(t)), completer, sender, m
}

func webhookConfig() config.WebhookConfig {
	cfg := config.DefaultConfig().Webhook
	cfg.VerifyToken = "secret"
	return cfg
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name     string
		cfg      func(*config.WebhookConfig)
		query    url.Values
		wantCode int
		wantBody string
	}{
		{
			name:     "hub parameters",
			query:    url.Values{"hub.mode": {"subscribe"}, "hub.verify_token": {"secret"}, "hub.challenge": {"CHALLENGE_ACCEPTED"}},
			wantCode: http.StatusOK,
			wantBody: "CHALLENGE_ACCEPTED",
		},
		{
			name:     "plain parameters",
			query:    url.Values{"mode": {"subscribe"}, "verify_token": {"secret"}, "challenge": {"42"}},
			wantCode: http.StatusOK,
			wantBody: "42",
		},
		{
			name:     "hub form wins over plain form",
			query:    url.Values{"hub.verify_token": {"wrong"}, "verify_token": {"secret"}, "hub.challenge": {"x"}},
			wantCode: http.StatusForbidden,
			wantBody: "Verification failed",
		},
		{
			name:     "mode ignored by default",
			query:    url.Values{"hub.mode": {"unsubscribe"}, "hub.verify_token": {"secret"}, "hub.challenge": {"c"}},
			wantCode: http.StatusOK,
			wantBody: "c",
		},
		{
			name:     "mode enforced when required",
			cfg:      func(c *config.WebhookConfig) { c.RequireSubscribeMode = true },
			query:    url.Values{"hub.mode": {"unsubscribe"}, "hub.verify_token": {"secret"}, "hub.challenge": {"c"}},
			wantCode: http.StatusForbidden,
			wantBody: "Verification failed",
		},
		{
			name:     "subscribe mode accepted when required",
			cfg:      func(c *config.WebhookConfig) { c.RequireSubscribeMode = true },
			query:    url.Values{"hub.mode": {"subscribe"}, "hub.verify_token": {"secret"}, "hub.challenge": {"c"}},
			wantCode: http.StatusOK,
			wantBody: "c",
		},
		{
			name:     "wrong token",
			query:    url.Values{"hub.verify_token": {"guess"}, "hub.challenge": {"c"}},
			wantCode: http.StatusForbidden,
			wantBody: "Verification failed",
		},
		{
			name:     "missing token",
			query:    url.Values{"hub.challenge": {"c"}},
			wantCode: http.StatusForbidden,
			wantBody: "Verification failed",
		},
		{
			name:     "unconfigured token never verifies",
			cfg:      func(c *config.WebhookConfig) { c.VerifyToken = "" },
			query:    url.Values{"hub.verify_token": {""}, "hub.challenge": {"c"}},
			wantCode: http.StatusForbidden,
			wantBody: "Verification failed",
		},
		{
			name:     "missing challenge echoes empty body",
			query:    url.Values{"hub.verify_token": {"secret"}},
			wantCode: http.StatusOK,
			wantBody: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := webhookConfig()
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			h, completer, sender, _ := newHandler(t, cfg)

			req := httptest.NewRequest(http.MethodGet, "/webhook?"+tt.query.Encode(), nil)
			rec := httptest.NewRecorder()
			h.Verify(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantBody, rec.Body.String())
			assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
			assert.Empty(t, completer.Calls())
			assert.Empty(t, sender.Calls())
		})
	}
}

func TestVerifyCountsResults(t *testing.T) {
	h, _, _, m := newHandler(t, webhookConfig())

	h.Verify(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/webhook?hub.verify_token=secret&hub.challenge=1", nil))
	h.Verify(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/webhook?hub.verify_token=nope", nil))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Verifications.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Verifications.WithLabelValues("failure")))
}

func post(h *handlers.WebhookHandler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.Receive(rec, req)
	return rec
}

func TestReceiveRelaysTextMessage(t *testing.T) {
	h, completer, sender, m := newHandler(t, webhookConfig())

	rec := post(h, `{"object":"page","entry":[{"id":"PAGE","time":1,"messaging":[
		{"sender":{"id":"123"},"recipient":{"id":"PAGE"},"timestamp":1,"message":{"mid":"m1","text":"hello"}}
	]}]}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	assert.Equal(t, []string{"hello"}, completer.Calls())
	assert.Equal(t, []mocks.SentMessage{{RecipientID: "123", Text: "reply to hello"}}, sender.Calls())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.WebhookEvents.WithLabelValues(handlers.OutcomeRelayed)))
}

func TestReceiveSkipsEventsWithoutText(t *testing.T) {
	tests := []struct {
		name    string
		event   string
		outcome string
	}{
		{"delivery receipt", `{"sender":{"id":"1"},"delivery":{"mids":["m1"]}}`, handlers.OutcomeNoMessage},
		{"read receipt", `{"sender":{"id":"1"},"read":{"watermark":1}}`, handlers.OutcomeNoMessage},
		{"postback", `{"sender":{"id":"1"},"postback":{"payload":"GET_STARTED"}}`, handlers.OutcomeNoMessage},
		{"attachment only", `{"sender":{"id":"1"},"message":{"mid":"m1","attachments":[{"type":"image","payload":{"url":"https://x"}}]}}`, handlers.OutcomeNoText},
		{"blank text", `{"sender":{"id":"1"},"message":{"mid":"m1","text":"   "}}`, handlers.OutcomeNoText},
		{"echo", `{"sender":{"id":"PAGE"},"message":{"mid":"m1","text":"hi","is_echo":true}}`, handlers.OutcomeEcho},
		{"no sender", `{"message":{"mid":"m1","text":"hi"}}`, handlers.OutcomeNoSender},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, completer, sender, m := newHandler(t, webhookConfig())

			rec := post(h, `{"object":"page","entry":[{"messaging":[`+tt.event+`]}]}`)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "OK", rec.Body.String())
			assert.Empty(t, completer.Calls())
			assert.Empty(t, sender.Calls())
			assert.Equal(t, float64(1), testutil.ToFloat64(m.WebhookEvents.WithLabelValues(tt.outcome)))
		})
	}
}

func TestReceiveEmptyEnvelopes(t *testing.T) {
	for _, body := range []string{
		`{"object":"page"}`,
		`{"object":"page","entry":[]}`,
		`{"object":"page","entry":[{"id":"PAGE"}]}`,
		"{\"object\":\"page\",\"entry\":[]}\r\n\n",
	} {
		h, completer, sender, _ := newHandler(t, webhookConfig())
		rec := post(h, body)
		assert.Equal(t, http.StatusOK, rec.Code, body)
		assert.Empty(t, completer.Calls())
		assert.Empty(t, sender.Calls())
	}
}

func TestReceiveRejectsInvalidPayload(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing object", `{"entry":[{"messaging":[{"sender":{"id":"1"},"message":{"text":"hi"}}]}]}`},
		{"wrong object", `{"object":"instagram","entry":[{"messaging":[{"sender":{"id":"1"},"message":{"text":"hi"}}]}]}`},
		{"object not a string", `{"object":7}`},
		{"not json", `hello`},
		{"empty body", ``},
		{"trailing garbage", `{"object":"page","entry":[{"messaging":[{"sender":{"id":"1"},"message":{"text":"hi"}}]}]} trailing`},
		{"second value", `{"object":"page","entry":[]}{"object":"page"}`},
		{"stray brace", `{"object":"page","entry":[]}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, completer, sender, m := newHandler(t, webhookConfig())

			rec := post(h, tt.body)

			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.Equal(t, "Error", rec.Body.String())
			assert.Empty(t, completer.Calls())
			assert.Empty(t, sender.Calls())
			assert.Equal(t, float64(1), testutil.ToFloat64(m.ErrorsTotal.WithLabelValues(string(errors.InvalidPayload))))
		})
	}
}

func TestReceiveRejectsOversizedPayload(t *testing.T) {
	cfg := webhookConfig()
	cfg.MaxBodyBytes = 64
	h, completer, _, _ := newHandler(t, cfg)

	rec := post(h, `{"object":"page","entry":[{"messaging":[{"sender":{"id":"1"},"message":{"text":"`+strings.Repeat("a", 200)+`"}}]}]}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, completer.Calls())
}

func TestReceiveProcessesEventsInOrder(t *testing.T) {
	h, completer, sender, _ := newHandler(t, webhookConfig())

	rec := post(h, `{"object":"page","entry":[
		{"messaging":[
			{"sender":{"id":"a"},"message":{"text":"one"}},
			{"sender":{"id":"b"},"read":{"watermark":1}},
			{"sender":{"id":"c"},"message":{"text":"two"}}
		]},
		{"messaging":[
			{"sender":{"id":"d"},"message":{"text":"three"}}
		]}
	]}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"one", "two", "three"}, completer.Calls())
	assert.Equal(t, []mocks.SentMessage{
		{RecipientID: "a", Text: "reply to one"},
		{RecipientID: "c", Text: "reply to two"},
		{RecipientID: "d", Text: "reply to three"},
	}, sender.Calls())
}

func TestReceiveSamePayloadTwice(t *testing.T) {
	h, completer, sender, _ := newHandler(t, webhookConfig())
	body := `{"object":"page","entry":[{"messaging":[{"sender":{"id":"123"},"message":{"mid":"m1","text":"hello"}}]}]}`

	require.Equal(t, http.StatusOK, post(h, body).Code)
	require.Equal(t, http.StatusOK, post(h, body).Code)

	assert.Len(t, completer.Calls(), 2)
	assert.Len(t, sender.Calls(), 2)
}

func TestReceiveDeliversFallbacksAndIgnoresDeliveryFailure(t *testing.T) {
	completer := mocks.NewMockCompleter(func(ctx context.Context, text string) completion.Reply {
		return completion.Reply{Text: "Sorry, something went wrong. Please try again.", Failure: errors.InternalError}
	})
	sender := mocks.NewMockSender(func(ctx context.Context, id, text string) delivery.Receipt {
		return delivery.Receipt{Failure: errors.UpstreamStatusError, Status: http.StatusBadRequest}
	})
	h := handlers.NewWebhookHandler(webhookConfig(), completer, sender, nil, zaptest.NewLogger(t))

	rec := post(h, `{"object":"page","entry":[{"messaging":[{"sender":{"id":"123"},"message":{"text":"hello"}}]}]}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	require.Len(t, sender.Calls(), 1)
	assert.Equal(t, "Sorry, something went wrong. Please try again.", sender.Calls()[0].Text)
}

func TestReceiveOutlivesClientDisconnect(t *testing.T) {
	var ctxErr error
	completer := mocks.NewMockCompleter(func(ctx context.Context, text string) completion.Reply {
		time.Sleep(20 * time.Millisecond)
		ctxErr = ctx.Err()
		return completion.Reply{Text: "late"}
	})
	sender := mocks.NewMockSender(nil)
	h := handlers.NewWebhookHandler(webhookConfig(), completer, sender, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(
		`{"object":"page","entry":[{"messaging":[{"sender":{"id":"123"},"message":{"text":"hello"}}]}]}`,
	)).WithContext(ctx)
	cancel()

	rec := httptest.NewRecorder()
	h.Receive(rec, req)

	assert.NoError(t, ctxErr)
	assert.Len(t, sender.Calls(), 1)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLivenessAndHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	handlers.Liveness(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Facebook Chatbot is running!", rec.Body.String())

	rec = httptest.NewRecorder()
	handlers.NewHealth(true, false, true, false).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{"verify_token":true,"page_access_token":false,"completion_api_key":true,"completion_model":false}}`, rec.Body.String())
}
