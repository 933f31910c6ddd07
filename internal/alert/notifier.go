package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tpsparking/api/internal/metrics"
)

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Notifier pushes alerts to an external channel.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Message describes one broken invariant. Fields carries the identifiers an operator
// needs to find the rows involved (vehicle_id, plate, session_ids).
type Message struct {
	Kind     string
	Summary  string
	Severity Severity
	Fields   map[string]string
}

func (m Message) sortedFields() []string {
	keys := make([]string, 0, len(m.Fields))
	for k := range m.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SlackNotifier posts alerts to an incoming webhook as a header plus a field section.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewSlackNotifier returns nil when webhookURL is empty.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	if webhookURL == "" {
		return nil
	}
	return &SlackNotifier{webhookURL: webhookURL, client: &http.Client{Timeout: 5 * time.Second}}
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackPayload struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

func slackMessage(msg Message) slackPayload {
	marker := ":warning:"
	if msg.Severity == SeverityCritical {
		marker = ":rotating_light:"
	}
	headline := fmt.Sprintf("%s consistency error: %s", marker, msg.Kind)

	blocks := []slackBlock{
		{Type: "section", Text: &slackText{Type: "mrkdwn", Text: "*" + headline + "*\n" + msg.Summary}},
	}
	if len(msg.Fields) > 0 {
		section := slackBlock{Type: "section"}
		for _, k := range msg.sortedFields() {
			section.Fields = append(section.Fields, slackText{Type: "mrkdwn", Text: "*" + k + "*\n`" + msg.Fields[k] + "`"})
		}
		blocks = append(blocks, section)
	}
	return slackPayload{Text: headline, Blocks: blocks}
}

func (s *SlackNotifier) Notify(ctx context.Context, msg Message) error {
	if s == nil {
		return fmt.Errorf("alert: slack webhook not configured")
	}
	body, err := json.Marshal(slackMessage(msg))
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("alert: post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("alert: webhook answered %d", resp.StatusCode)
	}
	return nil
}

// LogNotifier writes alerts to the log only.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, msg Message) error {
	ev := log.Warn().Str("component", "alert").Str("kind", msg.Kind).Str("severity", string(msg.Severity))
	for _, k := range msg.sortedFields() {
		ev = ev.Str(k, msg.Fields[k])
	}
	ev.Msg(msg.Summary)
	return nil
}

// New picks the Slack notifier when a webhook is configured.
func New(webhookURL string) Notifier {
	if n := NewSlackNotifier(webhookURL); n != nil {
		return n
	}
	return LogNotifier{}
}

// Consistency counts a broken invariant and delivers a critical alert in the background.
func Consistency(n Notifier, kind, summary string, fields map[string]string) {
	metrics.ConsistencyErrorsTotal.WithLabelValues(kind).Inc()
	if n == nil {
		return
	}
	msg := Message{Kind: kind, Summary: strings.TrimSpace(summary), Severity: SeverityCritical, Fields: fields}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := n.Notify(ctx, msg); err != nil {
			log.Error().Err(err).Str("component", "alert").Str("kind", kind).Msg("alert delivery failed")
		}
	}()
}
