package mailer

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWebhookProviderSend(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewWebhookProvider(srv.URL, discardLogger())
	msg := Message{
		LeadID:  "lead-1",
		To:      "fan@example.com",
		From:    "noreply@bembelracingteam.de",
		ReplyTo: "kontakt@bembelracingteam.de",
		Subject: "Danke",
		Text:    "Wir melden uns.",
	}
	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if got.Type != "auto_reply" {
		t.Errorf("payload type = %q, want auto_reply", got.Type)
	}
	if got.LeadID != "lead-1" || got.To != "fan@example.com" {
		t.Errorf("payload = %+v", got)
	}
	if _, err := time.Parse(time.RFC3339, got.Timestamp); err != nil {
		t.Errorf("timestamp %q not RFC3339: %v", got.Timestamp, err)
	}
}

func TestWebhookProviderRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewWebhookProvider(srv.URL, discardLogger())
	if err := p.Send(context.Background(), Message{To: "a@b.de"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestWebhookProviderClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	p := NewWebhookProvider(srv.URL, discardLogger())
	if err := p.Send(context.Background(), Message{To: "a@b.de"}); err == nil {
		t.Fatal("Send() succeeded, want error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no retry on 4xx)", calls.Load())
	}
}

func TestMockProvider(t *testing.T) {
	p := NewMockProvider(discardLogger())

	if err := p.Send(context.Background(), Message{To: "a@b.de", Subject: "hi"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if sent := p.Sent(); len(sent) != 1 || sent[0].To != "a@b.de" {
		t.Fatalf("Sent() = %+v", sent)
	}

	boom := errors.New("boom")
	p.Fail(boom)
	if err := p.Send(context.Background(), Message{To: "c@d.de"}); !errors.Is(err, boom) {
		t.Errorf("Send() error = %v, want %v", err, boom)
	}
	if len(p.Sent()) != 1 {
		t.Error("failed send was recorded")
	}
}

func TestOutboxAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "auto-replies.jsonl")
	o := NewOutbox(path, discardLogger())

	o.Append(Record{At: time.Unix(1000, 0).UTC(), LeadID: "l1", To: "a@b.de", Status: "sent", Transport: "mock"})
	o.Append(Record{At: time.Unix(1001, 0).UTC(), LeadID: "l2", To: "c@d.de", Status: "failed", Error: "HTTP 500"})

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open outbox: %v", err)
	}
	defer f.Close()

	var recs []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("line not valid JSON: %v", err)
		}
		recs = append(recs, rec)
	}

	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	if recs[0].LeadID != "l1" || recs[0].Status != "sent" {
		t.Errorf("first record = %+v", recs[0])
	}
	if recs[1].Error != "HTTP 500" {
		t.Errorf("second record error = %q", recs[1].Error)
	}
}
