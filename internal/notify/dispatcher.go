package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/engels74/comradarr-sub001/internal/model"
	"github.com/engels74/comradarr-sub001/internal/secrets"
	"github.com/engels74/comradarr-sub001/internal/storage"
)

// maxConcurrentSends bounds the per-event fan-out.
const maxConcurrentSends = 8

// Report aggregates the per-channel outcomes of one event dispatch.
type Report struct {
	EventType            model.EventType `json:"event_type"`
	Sent                 int             `json:"sent"`
	Failed               int             `json:"failed"`
	QuietHoursSuppressed int             `json:"quiet_hours_suppressed"`
	Batched              int             `json:"batched"`
	Results              []Result        `json:"results,omitempty"`
}

// Hook observes every dispatched event before channel fan-out. Hook
// errors are logged, never propagated.
type Hook func(ctx context.Context, eventType model.EventType, data map[string]any) error

// Dispatcher fans one event out to every subscribed channel.
type Dispatcher struct {
	db      *storage.DB
	cipher  *secrets.Cipher
	senders map[model.ChannelType]Sender
	logger  *slog.Logger
	hooks   []Hook
}

// NewDispatcher creates a dispatcher over the given sender set.
func NewDispatcher(db *storage.DB, cipher *secrets.Cipher, senders map[model.ChannelType]Sender, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{db: db, cipher: cipher, senders: senders, logger: logger}
}

// AddHook registers an event observer. Not safe to call once Dispatch
// may be running concurrently; register hooks during wiring.
func (d *Dispatcher) AddHook(h Hook) {
	d.hooks = append(d.hooks, h)
}

// Dispatch delivers one event to all enabled channels subscribed to it.
// Channels inside quiet hours or with batching enabled get a pending
// history entry instead of an immediate send.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType model.EventType, data map[string]any) (Report, error) {
	now := time.Now().UTC()
	payload := BuildPayload(eventType, data, now)

	for _, hook := range d.hooks {
		if err := hook(ctx, eventType, data); err != nil {
			d.logger.Warn("notify: event hook failed", "event", eventType, "error", err)
		}
	}

	channels, err := d.db.ListEnabledChannelsForEvent(ctx, eventType)
	if err != nil {
		return Report{}, fmt.Errorf("notify: list channels: %w", err)
	}

	report := Report{EventType: eventType}
	if len(channels) == 0 {
		return report, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSends)

	for _, ch := range channels {
		g.Go(func() error {
			outcome := d.deliverToChannel(gctx, ch, eventType, data, payload, now)
			mu.Lock()
			defer mu.Unlock()
			switch outcome.kind {
			case outcomeQuiet:
				report.QuietHoursSuppressed++
			case outcomeBatched:
				report.Batched++
			case outcomeSent:
				report.Sent++
				report.Results = append(report.Results, outcome.result)
			case outcomeFailed:
				report.Failed++
				report.Results = append(report.Results, outcome.result)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, fmt.Errorf("notify: dispatch: %w", err)
	}
	return report, nil
}

type outcomeKind int

const (
	outcomeQuiet outcomeKind = iota
	outcomeBatched
	outcomeSent
	outcomeFailed
)

type channelOutcome struct {
	kind   outcomeKind
	result Result
}

func (d *Dispatcher) deliverToChannel(ctx context.Context, ch model.NotificationChannel, eventType model.EventType, data map[string]any, payload Payload, now time.Time) channelOutcome {
	if InQuietHours(ch, now) {
		d.storePending(ctx, ch.ID, eventType, data)
		d.logger.Debug("notify: deferred by quiet hours", "channel", ch.Name, "event", eventType)
		return channelOutcome{kind: outcomeQuiet}
	}
	if ch.BatchingEnabled {
		d.storePending(ctx, ch.ID, eventType, data)
		d.logger.Debug("notify: deferred for batching", "channel", ch.Name, "event", eventType)
		return channelOutcome{kind: outcomeBatched}
	}

	entry, err := d.db.CreateHistoryEntry(ctx, model.NotificationHistoryEntry{
		ChannelID: ch.ID,
		EventType: eventType,
		EventData: data,
		Status:    model.HistoryPending,
	})
	if err != nil {
		d.logger.Error("notify: history entry failed", "channel", ch.Name, "error", err)
		return channelOutcome{kind: outcomeFailed, result: Result{ChannelID: ch.ID.String(), ChannelType: ch.Type, Error: err.Error()}}
	}

	result := d.send(ctx, ch, payload)
	d.recordResult(ctx, entry.ID, result)

	if result.Success {
		return channelOutcome{kind: outcomeSent, result: result}
	}
	d.logger.Warn("notify: delivery failed",
		"channel", ch.Name, "type", ch.Type, "event", eventType, "error", result.Error)
	return channelOutcome{kind: outcomeFailed, result: result}
}

// send resolves the sender and decrypted secrets for a channel, then
// delivers the payload.
func (d *Dispatcher) send(ctx context.Context, ch model.NotificationChannel, payload Payload) Result {
	sender, ok := d.senders[ch.Type]
	if !ok {
		return configErr(ch, fmt.Sprintf("no sender for channel type %q", ch.Type))
	}
	sensitive, err := d.decryptSensitive(ch)
	if err != nil {
		return configErr(ch, "decrypt channel secrets: "+err.Error())
	}
	return sender.Send(ctx, ch, sensitive, payload)
}

// TestChannel sends the canned test payload to one channel, bypassing
// quiet hours and batching.
func (d *Dispatcher) TestChannel(ctx context.Context, channelID uuid.UUID) (Result, error) {
	ch, err := d.db.GetChannel(ctx, channelID)
	if err != nil {
		return Result{}, fmt.Errorf("notify: test channel: %w", err)
	}
	sender, ok := d.senders[ch.Type]
	if !ok {
		return configErr(ch, fmt.Sprintf("no sender for channel type %q", ch.Type)), nil
	}
	sensitive, err := d.decryptSensitive(ch)
	if err != nil {
		return configErr(ch, "decrypt channel secrets: "+err.Error()), nil
	}
	return sender.Test(ctx, ch, sensitive), nil
}

func (d *Dispatcher) decryptSensitive(ch model.NotificationChannel) (map[string]string, error) {
	if ch.SensitiveEncrypted == "" {
		return map[string]string{}, nil
	}
	plaintext, err := d.cipher.Decrypt(ch.SensitiveEncrypted)
	if err != nil {
		return nil, err
	}
	var sensitive map[string]string
	if err := json.Unmarshal([]byte(plaintext), &sensitive); err != nil {
		return nil, fmt.Errorf("decode sensitive config: %w", err)
	}
	return sensitive, nil
}

func (d *Dispatcher) storePending(ctx context.Context, channelID uuid.UUID, eventType model.EventType, data map[string]any) {
	if _, err := d.db.CreateHistoryEntry(ctx, model.NotificationHistoryEntry{
		ChannelID: channelID,
		EventType: eventType,
		EventData: data,
		Status:    model.HistoryPending,
	}); err != nil {
		d.logger.Error("notify: deferred history entry failed", "channel_id", channelID, "error", err)
	}
}

func (d *Dispatcher) recordResult(ctx context.Context, entryID uuid.UUID, result Result) {
	status := model.HistorySent
	var errMsg *string
	if !result.Success {
		status = model.HistoryFailed
		errMsg = &result.Error
	}
	if err := d.db.UpdateHistoryResult(ctx, entryID, status, result.SentAt, errMsg); err != nil {
		d.logger.Error("notify: record delivery result failed", "entry_id", entryID, "error", err)
	}
}
