package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/engels74/comradarr-sub001/internal/model"
)

// DefaultTelegramAPIBase is the hosted Bot API endpoint; self-hosted
// bot-api servers override it via the channel config.
const DefaultTelegramAPIBase = "https://api.telegram.org"

// TelegramSender delivers payloads via the Telegram Bot API.
type TelegramSender struct {
	httpSender
}

type telegramBody struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
	DisableNotification   bool   `json:"disable_notification"`
}

func (s *TelegramSender) Send(ctx context.Context, ch model.NotificationChannel, sensitive map[string]string, p Payload) Result {
	token := sensitive["bot_token"]
	if token == "" {
		return configErr(ch, "telegram channel has no bot_token")
	}
	chatID := ch.Config["chat_id"]
	if chatID == "" {
		return configErr(ch, "telegram channel has no chat_id")
	}

	apiBase := ch.Config["api_base"]
	if apiBase == "" {
		apiBase = DefaultTelegramAPIBase
	}

	parseMode := ch.Config["parse_mode"]
	switch parseMode {
	case "HTML", "Markdown", "MarkdownV2":
	default:
		parseMode = "HTML"
	}

	body, err := json.Marshal(telegramBody{
		ChatID:                chatID,
		Text:                  formatTelegramText(p, parseMode),
		ParseMode:             parseMode,
		DisableWebPagePreview: ch.Config["disable_web_page_preview"] == "true",
		DisableNotification:   ch.Config["disable_notification"] == "true",
	})
	if err != nil {
		return configErr(ch, "encode telegram body: "+err.Error())
	}

	url := strings.TrimRight(apiBase, "/") + "/bot" + token + "/sendMessage"
	return s.deliver(ctx, ch, func() (*http.Request, error) {
		return jsonRequest(ctx, http.MethodPost, url, body, nil)
	})
}

func (s *TelegramSender) Test(ctx context.Context, ch model.NotificationChannel, sensitive map[string]string) Result {
	return s.Send(ctx, ch, sensitive, TestPayload(time.Now().UTC()))
}

func formatTelegramText(p Payload, parseMode string) string {
	esc := func(s string) string { return s }
	var b strings.Builder

	switch parseMode {
	case "HTML":
		esc = EscapeHTML
		b.WriteString("<b>" + esc(p.Title) + "</b>\n")
	case "MarkdownV2":
		esc = EscapeMarkdownV2
		b.WriteString("*" + esc(p.Title) + "*\n")
	default:
		b.WriteString("*" + p.Title + "*\n")
	}

	b.WriteString(esc(p.Message))
	for _, f := range p.Fields {
		b.WriteString(fmt.Sprintf("\n%s: %s", esc(f.Name), esc(f.Value)))
	}
	if p.URL != "" {
		b.WriteString("\n" + esc(p.URL))
	}
	return b.String()
}

// EscapeHTML escapes the characters Telegram's HTML parse mode treats as
// markup.
func EscapeHTML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

// markdownV2Specials are the characters Telegram requires escaped in
// MarkdownV2 text.
const markdownV2Specials = "_*[]()~`>#+-=|{}.!"

// EscapeMarkdownV2 backslash-escapes MarkdownV2 special characters.
func EscapeMarkdownV2(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(markdownV2Specials, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
