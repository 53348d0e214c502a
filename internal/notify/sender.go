package notify

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/engels74/comradarr-sub001/internal/apperr"
	"github.com/engels74/comradarr-sub001/internal/model"
	"github.com/engels74/comradarr-sub001/internal/retry"
)

// Sender delivery policy shared by every channel type.
const (
	SendTimeout      = 30 * time.Second
	DefaultUserAgent = "comradarr"

	senderMaxRetries = 2
	senderBaseDelay  = time.Second
	senderMaxDelay   = 10 * time.Second
)

// Result is the outcome of one delivery attempt to one channel.
type Result struct {
	Success     bool              `json:"success"`
	ChannelID   string            `json:"channel_id"`
	ChannelType model.ChannelType `json:"channel_type"`
	SentAt      *time.Time        `json:"sent_at,omitempty"`
	Error       string            `json:"error,omitempty"`
	StatusCode  int               `json:"status_code,omitempty"`
	DurationMs  int64             `json:"duration_ms"`
}

// Sender delivers payloads for one channel type. sensitive holds the
// channel's decrypted secret config (tokens, passwords, signing keys).
type Sender interface {
	Send(ctx context.Context, ch model.NotificationChannel, sensitive map[string]string, p Payload) Result

	// Test delivers a canned payload to verify the channel configuration.
	Test(ctx context.Context, ch model.NotificationChannel, sensitive map[string]string) Result
}

// SenderOptions tunes delivery behavior across the sender set. Zero
// values fall back to the package defaults.
type SenderOptions struct {
	// UserAgent is sent on every outbound HTTP delivery.
	UserAgent string
	// Retry overrides the per-delivery retry policy when MaxRetries > 0.
	Retry retry.Config
}

// Senders builds the production sender set. httpClient nil uses a default
// with SendTimeout.
func Senders(httpClient *http.Client, opts SenderOptions) map[model.ChannelType]Sender {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: SendTimeout}
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Retry.MaxRetries <= 0 {
		opts.Retry = senderRetryConfig()
	}
	base := httpSender{client: httpClient, retryCfg: opts.Retry, userAgent: opts.UserAgent}
	return map[model.ChannelType]Sender{
		model.ChannelWebhook:  &WebhookSender{httpSender: base},
		model.ChannelDiscord:  &DiscordSender{httpSender: base},
		model.ChannelSlack:    &SlackSender{httpSender: base},
		model.ChannelTelegram: &TelegramSender{httpSender: base},
		model.ChannelEmail:    &EmailSender{retryCfg: opts.Retry},
	}
}

func senderRetryConfig() retry.Config {
	return retry.Config{
		MaxRetries: senderMaxRetries,
		BaseDelay:  senderBaseDelay,
		MaxDelay:   senderMaxDelay,
		Multiplier: 2,
		Jitter:     true,
	}
}

// httpSender is the shared HTTP delivery core: retried JSON request with
// error classification, measuring the full duration including retries.
type httpSender struct {
	client    *http.Client
	retryCfg  retry.Config
	userAgent string
}

// deliver runs one retried HTTP exchange and folds the outcome into a
// Result. buildReq is called per attempt so bodies are re-readable.
func (s httpSender) deliver(ctx context.Context, ch model.NotificationChannel, buildReq func() (*http.Request, error)) Result {
	start := time.Now()
	var statusCode int

	err := retry.Do(ctx, s.retryCfg, func() error {
		req, err := buildReq()
		if err != nil {
			return err
		}
		if s.userAgent != "" {
			req.Header.Set("User-Agent", s.userAgent)
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return apperr.FromTransport(err)
		}
		defer func() { _ = resp.Body.Close() }()

		statusCode = resp.StatusCode
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return errFromResponse(resp, string(body))
	})

	res := Result{
		ChannelID:   ch.ID.String(),
		ChannelType: ch.Type,
		StatusCode:  statusCode,
		DurationMs:  time.Since(start).Milliseconds(),
	}
	if err != nil {
		res.Error = err.Error()
		return res
	}
	now := time.Now().UTC()
	res.Success = true
	res.SentAt = &now
	return res
}

func errFromResponse(resp *http.Response, body string) error {
	var retryAfter time.Duration
	if v := resp.Header.Get("Retry-After"); v != "" {
		if d, err := time.ParseDuration(v + "s"); err == nil {
			retryAfter = d
		}
	}
	if e := apperr.FromHTTPStatus(resp.StatusCode, body, retryAfter); e != nil {
		return e
	}
	return nil
}

// jsonRequest builds a POST (or other method) with a JSON body and extra
// headers.
func jsonRequest(ctx context.Context, method, url string, body []byte, headers map[string]string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.CategoryConfiguration, "build notification request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// configErr builds a failed Result for a misconfigured channel without
// attempting delivery.
func configErr(ch model.NotificationChannel, msg string) Result {
	return Result{
		ChannelID:   ch.ID.String(),
		ChannelType: ch.Type,
		Error:       apperr.New(apperr.CategoryConfiguration, msg).Error(),
	}
}
