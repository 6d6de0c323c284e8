package alerts

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestSendAlwaysJournalsEvenWhenDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.jsonl")
	journal, err := NewJournal(path)
	if err != nil {
		t.Fatal(err)
	}
	c := NewClient(Config{Enabled: false}, journal)
	defer c.Close()

	for i := 0; i < 3; i++ {
		if err := c.Send(Alert{Category: "DISK_CRITICAL", Severity: "Critical", Message: "disk full"}); err != nil {
			t.Fatal(err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry struct {
			Type string `json:"type"`
			Data Alert  `json:"data"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("bad journal line: %v", err)
		}
		if entry.Type != "alert" || entry.Data.Category != "DISK_CRITICAL" {
			t.Errorf("unexpected entry: %+v", entry)
		}
		lines++
	}
	if lines != 3 {
		t.Errorf("expected 3 journal lines, got %d", lines)
	}
}

func TestWebhookDeliveryAndDedupe(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var a Alert
		if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
			t.Errorf("bad webhook body: %v", err)
		}
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	journal, err := NewJournal(filepath.Join(t.TempDir(), "alerts.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	c := NewClient(Config{Enabled: true, WebhookURL: srv.URL, RatePerMinute: 60}, journal)

	a := Alert{Category: "HOST_UNRESPONSIVE", Severity: "Critical", Message: "terminal gone"}
	_ = c.Send(a)
	_ = c.Send(a) // identical within dedupe window
	c.Close()     // drains the queue

	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("expected exactly 1 delivery after dedupe, got %d", got)
	}
}

func TestWebhookRetriesThenGivesUp(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	journal, err := NewJournal(filepath.Join(t.TempDir(), "alerts.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	c := NewClient(Config{Enabled: true, WebhookURL: srv.URL, RatePerMinute: 60, MaxRetries: 2}, journal)

	_ = c.Send(Alert{Category: "DISK_CRITICAL", Severity: "Critical", Message: "disk"})

	deadline := time.After(5 * time.Second)
	for atomic.LoadInt32(&hits) < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected 2 attempts, saw %d", atomic.LoadInt32(&hits))
		case <-time.After(20 * time.Millisecond):
		}
	}
	c.Close()

	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Errorf("expected exactly MaxRetries attempts, got %d", got)
	}
}
