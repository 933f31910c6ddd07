package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSlackNotifierPostsBlocks(t *testing.T) {
	var got slackPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := NewSlackNotifier(srv.URL).Notify(context.Background(), Message{
		Kind:     "multiple_active_sessions",
		Summary:  "vehicle AB123CD has 2 active sessions",
		Severity: SeverityCritical,
		Fields:   map[string]string{"plate": "AB123CD", "session_ids": "a, b"},
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got.Text != ":rotating_light: consistency error: multiple_active_sessions" {
		t.Fatalf("unexpected fallback text %q", got.Text)
	}
	if len(got.Blocks) != 2 || len(got.Blocks[1].Fields) != 2 {
		t.Fatalf("unexpected blocks %+v", got.Blocks)
	}
	if !strings.HasPrefix(got.Blocks[1].Fields[0].Text, "*plate*") {
		t.Fatalf("fields not sorted: %+v", got.Blocks[1].Fields)
	}
}

func TestSlackNotifierReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewSlackNotifier(srv.URL).Notify(context.Background(), Message{Kind: "x"})
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Fatalf("expected 500 error, got %v", err)
	}
}

func TestNewFallsBackToLog(t *testing.T) {
	if _, ok := New("").(LogNotifier); !ok {
		t.Fatal("expected log notifier without webhook")
	}
}

type chanNotifier chan Message

func (c chanNotifier) Notify(ctx context.Context, msg Message) error {
	c <- msg
	return nil
}

func TestConsistencyDeliversCriticalAlert(t *testing.T) {
	ch := make(chanNotifier, 1)
	Consistency(ch, "multiple_active_sessions", " two sessions ", map[string]string{"plate": "AB123CD"})

	select {
	case msg := <-ch:
		if msg.Severity != SeverityCritical || msg.Summary != "two sessions" || msg.Fields["plate"] != "AB123CD" {
			t.Fatalf("unexpected message %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("alert not delivered")
	}
}
