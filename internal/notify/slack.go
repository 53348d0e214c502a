package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/slack-go/slack"

	"github.com/engels74/comradarr-sub001/internal/model"
)

// slackMaxFields is Slack's cap on fields per section block.
const slackMaxFields = 10

// SlackSender delivers payloads to Slack incoming webhooks as Block Kit
// messages with a plain-text fallback.
type SlackSender struct {
	httpSender
}

func (s *SlackSender) Send(ctx context.Context, ch model.NotificationChannel, sensitive map[string]string, p Payload) Result {
	url := sensitive["webhook_url"]
	if url == "" {
		url = ch.Config["webhook_url"]
	}
	if url == "" {
		return configErr(ch, "slack channel has no webhook_url")
	}

	msg := slack.WebhookMessage{
		Text:   fmt.Sprintf("%s: %s", p.Title, p.Message),
		Blocks: buildSlackBlocks(p),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return configErr(ch, "encode slack body: "+err.Error())
	}

	return s.deliver(ctx, ch, func() (*http.Request, error) {
		return jsonRequest(ctx, http.MethodPost, url, body, nil)
	})
}

func (s *SlackSender) Test(ctx context.Context, ch model.NotificationChannel, sensitive map[string]string) Result {
	return s.Send(ctx, ch, sensitive, TestPayload(time.Now().UTC()))
}

func buildSlackBlocks(p Payload) *slack.Blocks {
	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, p.Title, false, false)),
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, p.Message, false, false), nil, nil),
	}

	if len(p.Fields) > 0 {
		fields := p.Fields
		if len(fields) > slackMaxFields {
			fields = fields[:slackMaxFields]
		}
		objs := make([]*slack.TextBlockObject, 0, len(fields))
		for _, f := range fields {
			objs = append(objs, slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("*%s*\n%s", f.Name, f.Value), false, false))
		}
		blocks = append(blocks, slack.NewSectionBlock(nil, objs, nil))
	}

	if p.URL != "" {
		btn := slack.NewButtonBlockElement("view_details", string(p.EventType),
			slack.NewTextBlockObject(slack.PlainTextType, "View Details", false, false))
		btn.URL = p.URL
		blocks = append(blocks, slack.NewActionBlock("actions", btn))
	}

	footer := fmt.Sprintf("%s | %s", p.EventType, p.Timestamp.UTC().Format(time.RFC3339))
	blocks = append(blocks, slack.NewContextBlock("footer",
		slack.NewTextBlockObject(slack.MarkdownType, footer, false, false)))

	return &slack.Blocks{BlockSet: blocks}
}
