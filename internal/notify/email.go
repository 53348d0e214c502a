package notify

import (
	"context"
	"fmt"
	"html"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/engels74/comradarr-sub001/internal/apperr"
	"github.com/engels74/comradarr-sub001/internal/model"
	"github.com/engels74/comradarr-sub001/internal/retry"
)

// DefaultSMTPPort is used when the channel config has no port.
const DefaultSMTPPort = 587

// EmailSender delivers payloads over SMTP as multipart messages with an
// HTML body and a plain-text alternative.
type EmailSender struct {
	retryCfg retry.Config

	// sendMail is swapped in tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func (s *EmailSender) Send(ctx context.Context, ch model.NotificationChannel, sensitive map[string]string, p Payload) Result {
	start := time.Now()

	host := ch.Config["host"]
	from := ch.Config["from"]
	to := ch.Config["to"]
	if host == "" || from == "" || to == "" {
		return configErr(ch, "email channel needs host, from, and to")
	}

	port := DefaultSMTPPort
	if v := ch.Config["port"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return configErr(ch, "email channel has an invalid port")
		}
		port = n
	}

	subject := p.Title
	if prefix := ch.Config["subject_prefix"]; prefix != "" {
		subject = prefix + " " + subject
	}

	recipients := splitRecipients(to)
	msg := buildEmailMessage(from, recipients, subject, p)

	var auth smtp.Auth
	if user := sensitive["username"]; user != "" {
		auth = smtp.PlainAuth("", user, sensitive["password"], host)
	}

	send := s.sendMail
	if send == nil {
		send = smtp.SendMail
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	err := retry.Do(ctx, s.retryCfg, func() error {
		if err := send(addr, auth, from, recipients, msg); err != nil {
			return apperr.Wrap(apperr.CategoryNetwork, "smtp send", err)
		}
		return nil
	})

	res := Result{
		ChannelID:   ch.ID.String(),
		ChannelType: ch.Type,
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

func (s *EmailSender) Test(ctx context.Context, ch model.NotificationChannel, sensitive map[string]string) Result {
	return s.Send(ctx, ch, sensitive, TestPayload(time.Now().UTC()))
}

func splitRecipients(to string) []string {
	parts := strings.Split(to, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// buildEmailMessage renders a multipart/alternative message: plain text
// first, HTML second so capable clients prefer it.
func buildEmailMessage(from string, to []string, subject string, p Payload) []byte {
	const boundary = "comradarr-alt-boundary"

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(plainBody(p))
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	b.WriteString(htmlBody(p))
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s--\r\n", boundary)
	return []byte(b.String())
}

func plainBody(p Payload) string {
	var b strings.Builder
	b.WriteString(p.Title + "\r\n\r\n")
	b.WriteString(p.Message + "\r\n")
	for _, f := range p.Fields {
		fmt.Fprintf(&b, "\r\n%s: %s", f.Name, f.Value)
	}
	if p.URL != "" {
		b.WriteString("\r\n\r\nDetails: " + p.URL)
	}
	return b.String()
}

func htmlBody(p Payload) string {
	var b strings.Builder
	b.WriteString("<html><body style=\"font-family:sans-serif\">")
	fmt.Fprintf(&b, "<div style=\"background:%s;color:#fff;padding:12px 16px\"><h2 style=\"margin:0\">%s</h2></div>",
		html.EscapeString(p.Color), html.EscapeString(p.Title))
	fmt.Fprintf(&b, "<p>%s</p>", html.EscapeString(p.Message))

	if len(p.Fields) > 0 {
		b.WriteString("<table cellpadding=\"4\">")
		for _, f := range p.Fields {
			fmt.Fprintf(&b, "<tr><td><b>%s</b></td><td>%s</td></tr>",
				html.EscapeString(f.Name), html.EscapeString(f.Value))
		}
		b.WriteString("</table>")
	}

	if p.URL != "" {
		fmt.Fprintf(&b, "<p><a href=%q style=\"background:%s;color:#fff;padding:8px 16px;text-decoration:none\">View Details</a></p>",
			p.URL, html.EscapeString(p.Color))
	}
	b.WriteString("</body></html>")
	return b.String()
}
