package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engels74/comradarr-sub001/internal/model"
	"github.com/engels74/comradarr-sub001/internal/retry"
)

func fastRetryConfig() retry.Config {
	return retry.Config{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func testHTTPSender(srv *httptest.Server) httpSender {
	return httpSender{client: srv.Client(), retryCfg: fastRetryConfig()}
}

func channelOf(ctype model.ChannelType, config map[string]string) model.NotificationChannel {
	return model.NotificationChannel{
		ID:     uuid.New(),
		Name:   "test-channel",
		Type:   ctype,
		Config: config,
	}
}

func samplePayload() Payload {
	return Payload{
		EventType: model.EventSearchSuccess,
		Title:     "Search dispatched",
		Message:   "Search sent for The Expanse S01E01.",
		Timestamp: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
		Fields:    []Field{{Name: "connector", Value: "sonarr-main"}},
		Color:     "#27ae60",
	}
}

func TestWebhookSenderSignsBody(t *testing.T) {
	var gotSig, gotTS string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature")
		gotTS = r.Header.Get("X-Timestamp")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	fixed := time.Unix(1700000000, 0).UTC()
	s := &WebhookSender{httpSender: testHTTPSender(srv), now: func() time.Time { return fixed }}
	ch := channelOf(model.ChannelWebhook, map[string]string{"url": srv.URL})

	res := s.Send(context.Background(), ch, map[string]string{"secret": "s3cret"}, samplePayload())
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "1700000000", gotTS)

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write([]byte(gotTS + "."))
	mac.Write(gotBody)
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), gotSig)
}

func TestSignBodyKnownVector(t *testing.T) {
	body := []byte(`{"a":1}`)
	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write([]byte("1700000000." + string(body)))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), SignBody("s3cret", "1700000000", body))
}

func TestSendersApplyOptions(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	senders := Senders(srv.Client(), SenderOptions{UserAgent: "comradarr/1.2", Retry: fastRetryConfig()})
	ch := channelOf(model.ChannelWebhook, map[string]string{"url": srv.URL})
	res := senders[model.ChannelWebhook].Send(context.Background(), ch, nil, samplePayload())
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "comradarr/1.2", gotUA)

	wh := senders[model.ChannelWebhook].(*WebhookSender)
	assert.Equal(t, fastRetryConfig(), wh.retryCfg)
	email := senders[model.ChannelEmail].(*EmailSender)
	assert.Equal(t, fastRetryConfig(), email.retryCfg)
}

func TestSendersDefaultUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	senders := Senders(srv.Client(), SenderOptions{Retry: fastRetryConfig()})
	ch := channelOf(model.ChannelWebhook, map[string]string{"url": srv.URL})
	res := senders[model.ChannelWebhook].Send(context.Background(), ch, nil, samplePayload())
	require.True(t, res.Success, res.Error)
	assert.Equal(t, DefaultUserAgent, gotUA)
}

func TestWebhookSenderNoSecretNoSignature(t *testing.T) {
	var sawSig bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawSig = r.Header.Get("X-Signature") != ""
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := &WebhookSender{httpSender: testHTTPSender(srv)}
	ch := channelOf(model.ChannelWebhook, map[string]string{"url": srv.URL})
	res := s.Send(context.Background(), ch, nil, samplePayload())
	require.True(t, res.Success)
	assert.False(t, sawSig)
}

func TestWebhookSenderRetriesServerErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := &WebhookSender{httpSender: testHTTPSender(srv)}
	ch := channelOf(model.ChannelWebhook, map[string]string{"url": srv.URL})
	res := s.Send(context.Background(), ch, nil, samplePayload())
	assert.True(t, res.Success)
	assert.Equal(t, 3, calls)
}

func TestWebhookSenderDoesNotRetryValidationErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	s := &WebhookSender{httpSender: testHTTPSender(srv)}
	ch := channelOf(model.ChannelWebhook, map[string]string{"url": srv.URL})
	res := s.Send(context.Background(), ch, nil, samplePayload())
	assert.False(t, res.Success)
	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestWebhookSenderMissingURL(t *testing.T) {
	s := &WebhookSender{}
	res := s.Send(context.Background(), channelOf(model.ChannelWebhook, nil), nil, samplePayload())
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "configuration")
}

func TestDiscordSenderBuildsEmbed(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := &DiscordSender{httpSender: testHTTPSender(srv)}
	ch := channelOf(model.ChannelDiscord, map[string]string{"webhook_url": srv.URL})
	res := s.Send(context.Background(), ch, nil, samplePayload())
	require.True(t, res.Success, res.Error)

	embeds := body["embeds"].([]any)
	require.Len(t, embeds, 1)
	embed := embeds[0].(map[string]any)
	assert.Equal(t, "Search dispatched", embed["title"])
	assert.Equal(t, float64(0x27ae60), embed["color"])
}

func TestSlackSenderBuildsBlocks(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := &SlackSender{httpSender: testHTTPSender(srv)}
	ch := channelOf(model.ChannelSlack, map[string]string{"webhook_url": srv.URL})

	p := samplePayload()
	p.URL = "https://example.test/details"
	res := s.Send(context.Background(), ch, nil, p)
	require.True(t, res.Success, res.Error)

	assert.Contains(t, body["text"], "Search dispatched")
	blocks := body["blocks"].([]any)
	types := make([]string, len(blocks))
	for i, b := range blocks {
		types[i] = b.(map[string]any)["type"].(string)
	}
	assert.Equal(t, []string{"header", "section", "section", "actions", "context"}, types)
}

func TestTelegramSenderURLAndEscaping(t *testing.T) {
	var path string
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := &TelegramSender{httpSender: testHTTPSender(srv)}
	ch := channelOf(model.ChannelTelegram, map[string]string{
		"chat_id":  "12345",
		"api_base": srv.URL,
	})

	p := samplePayload()
	p.Message = "a <b> & c"
	res := s.Send(context.Background(), ch, map[string]string{"bot_token": "tok123"}, p)
	require.True(t, res.Success, res.Error)

	assert.Equal(t, "/bottok123/sendMessage", path)
	assert.Equal(t, "12345", body["chat_id"])
	assert.Equal(t, "HTML", body["parse_mode"])
	assert.Contains(t, body["text"], "a &lt;b&gt; &amp; c")
}

func TestEscapeMarkdownV2(t *testing.T) {
	assert.Equal(t, `a\.b\*c\_d`, EscapeMarkdownV2("a.b*c_d"))
	assert.Equal(t, "plain text", EscapeMarkdownV2("plain text"))
}

func TestEmailSenderBuildsMultipart(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	s := &EmailSender{
		retryCfg: fastRetryConfig(),
		sendMail: func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
			gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
			return nil
		},
	}

	ch := channelOf(model.ChannelEmail, map[string]string{
		"host":           "mail.example.test",
		"from":           "orchestrator@example.test",
		"to":             "a@example.test, b@example.test",
		"subject_prefix": "[comradarr]",
	})

	res := s.Send(context.Background(), ch, nil, samplePayload())
	require.True(t, res.Success, res.Error)

	assert.Equal(t, "mail.example.test:587", gotAddr)
	assert.Equal(t, "orchestrator@example.test", gotFrom)
	assert.Equal(t, []string{"a@example.test", "b@example.test"}, gotTo)

	msg := string(gotMsg)
	assert.Contains(t, msg, "Subject: [comradarr] Search dispatched")
	assert.Contains(t, msg, "multipart/alternative")
	assert.Contains(t, msg, "text/plain")
	assert.Contains(t, msg, "text/html")
	assert.True(t, strings.Index(msg, "text/plain") < strings.Index(msg, "text/html"),
		"plain part must come first")
}

func TestEmailSenderMissingConfig(t *testing.T) {
	s := &EmailSender{retryCfg: fastRetryConfig()}
	res := s.Send(context.Background(), channelOf(model.ChannelEmail, map[string]string{"host": "h"}), nil, samplePayload())
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "configuration")
}
