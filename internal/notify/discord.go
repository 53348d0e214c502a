package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/engels74/comradarr-sub001/internal/model"
)

// DiscordSender delivers payloads as Discord webhook embeds.
type DiscordSender struct {
	httpSender
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	URL         string         `json:"url,omitempty"`
	Timestamp   string         `json:"timestamp"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields,omitempty"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordBody struct {
	Username string         `json:"username,omitempty"`
	Embeds   []discordEmbed `json:"embeds"`
}

func (s *DiscordSender) Send(ctx context.Context, ch model.NotificationChannel, sensitive map[string]string, p Payload) Result {
	url := sensitive["webhook_url"]
	if url == "" {
		url = ch.Config["webhook_url"]
	}
	if url == "" {
		return configErr(ch, "discord channel has no webhook_url")
	}

	embed := discordEmbed{
		Title:       p.Title,
		Description: p.Message,
		URL:         p.URL,
		Timestamp:   p.Timestamp.UTC().Format(time.RFC3339),
		Color:       ColorToInt(p.Color),
	}
	for _, f := range p.Fields {
		embed.Fields = append(embed.Fields, discordField{Name: f.Name, Value: f.Value, Inline: true})
	}

	body, err := json.Marshal(discordBody{
		Username: ch.Config["username"],
		Embeds:   []discordEmbed{embed},
	})
	if err != nil {
		return configErr(ch, "encode discord body: "+err.Error())
	}

	return s.deliver(ctx, ch, func() (*http.Request, error) {
		return jsonRequest(ctx, http.MethodPost, url, body, nil)
	})
}

func (s *DiscordSender) Test(ctx context.Context, ch model.NotificationChannel, sensitive map[string]string) Result {
	return s.Send(ctx, ch, sensitive, TestPayload(time.Now().UTC()))
}

// ColorToInt converts a "#rrggbb" hex color to its integer value. Invalid
// input falls back to the default event color.
func ColorToInt(hexColor string) int {
	trimmed := strings.TrimPrefix(hexColor, "#")
	if v, err := strconv.ParseInt(trimmed, 16, 32); err == nil && len(trimmed) == 6 {
		return int(v)
	}
	fallback := strings.TrimPrefix(model.DefaultEventColor, "#")
	v, _ := strconv.ParseInt(fallback, 16, 32)
	return int(v)
}
