package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/engels74/comradarr-sub001/internal/model"
)

// Default webhook header names; overridable per channel.
const (
	DefaultSignatureHeader = "X-Signature"
	DefaultTimestampHeader = "X-Timestamp"
)

// WebhookSender delivers payloads as generic JSON webhooks, optionally
// signed with HMAC-SHA256 over "timestamp.body".
type WebhookSender struct {
	httpSender

	// now is swapped in tests to pin the signature timestamp.
	now func() time.Time
}

type webhookBody struct {
	EventType model.EventType `json:"event_type"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Timestamp time.Time       `json:"timestamp"`
	Fields    []Field         `json:"fields,omitempty"`
	Color     string          `json:"color,omitempty"`
	URL       string          `json:"url,omitempty"`
	EventData map[string]any  `json:"event_data,omitempty"`
}

func (s *WebhookSender) Send(ctx context.Context, ch model.NotificationChannel, sensitive map[string]string, p Payload) Result {
	url := ch.Config["url"]
	if url == "" {
		return configErr(ch, "webhook channel has no url")
	}

	method := ch.Config["method"]
	if method != http.MethodPut {
		method = http.MethodPost
	}

	body, err := json.Marshal(webhookBody{
		EventType: p.EventType,
		Title:     p.Title,
		Message:   p.Message,
		Timestamp: p.Timestamp,
		Fields:    p.Fields,
		Color:     p.Color,
		URL:       p.URL,
		EventData: p.EventData,
	})
	if err != nil {
		return configErr(ch, "encode webhook body: "+err.Error())
	}

	headers := map[string]string{}
	if secret := sensitive["secret"]; secret != "" {
		ts := strconv.FormatInt(s.clock().Unix(), 10)
		headers[headerName(ch, "signature_header", DefaultSignatureHeader)] = SignBody(secret, ts, body)
		headers[headerName(ch, "timestamp_header", DefaultTimestampHeader)] = ts
	}

	return s.deliver(ctx, ch, func() (*http.Request, error) {
		return jsonRequest(ctx, method, url, body, headers)
	})
}

func (s *WebhookSender) Test(ctx context.Context, ch model.NotificationChannel, sensitive map[string]string) Result {
	return s.Send(ctx, ch, sensitive, TestPayload(time.Now().UTC()))
}

// SignBody computes the lowercase-hex HMAC-SHA256 of "timestamp.body".
func SignBody(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *WebhookSender) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now().UTC()
}

func headerName(ch model.NotificationChannel, key, fallback string) string {
	if v := ch.Config[key]; v != "" {
		return v
	}
	return fallback
}
