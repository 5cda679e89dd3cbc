package notify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"podcastcrawler/internal/notify"
)

func TestSummarizeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"response": "A concise summary.",
			"done":     true,
		})
	}))
	defer srv.Close()

	s := notify.NewSummarizer(notify.SummarizerConfig{URL: srv.URL, Model: "llama2", MaxRetries: 1}, nil)
	got, err := s.Summarize(context.Background(), "A long episode description about Go concurrency.")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "A concise summary." {
		t.Fatalf("got %q", got)
	}
}

func TestSummarizeEmptyTextRejected(t *testing.T) {
	s := notify.NewSummarizer(notify.SummarizerConfig{URL: "http://localhost:0"}, nil)
	if _, err := s.Summarize(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty text")
	}
}

func TestSummarizeRetriesOnFailure(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"response": "ok", "done": true})
	}))
	defer srv.Close()

	s := notify.NewSummarizer(notify.SummarizerConfig{URL: srv.URL, MaxRetries: 3}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := s.Summarize(ctx, "text")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "ok" {
		t.Fatalf("got %q", got)
	}
	if hits != 2 {
		t.Fatalf("hits=%d want 2", hits)
	}
}
