package notify_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"podcastcrawler/internal/notify"
)

func TestDiscordSenderSuccess(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := notify.NewDiscordSender(time.Second, 2, nil)
	err := d.Send(context.Background(), srv.URL, notify.EpisodeAnnouncement{
		FeedTitle: "My Show", EpisodeTitle: "Episode 1", EpisodeURL: srv.URL,
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if hits != 1 {
		t.Fatalf("hits=%d want 1", hits)
	}
}

func TestDiscordSenderRetriesThenFails(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := notify.NewDiscordSender(time.Second, 1, nil)
	err := d.Send(context.Background(), srv.URL, notify.EpisodeAnnouncement{
		FeedTitle: "My Show", EpisodeTitle: "Episode 1",
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if hits != 2 {
		t.Fatalf("hits=%d want 2 (1 initial + 1 retry)", hits)
	}
}

func TestDiscordSenderEmptyTitleRejected(t *testing.T) {
	d := notify.NewDiscordSender(time.Second, 1, nil)
	if err := d.Send(context.Background(), "https://discord.example/webhook", notify.EpisodeAnnouncement{}); err == nil {
		t.Fatal("expected error for empty episode title")
	}
}
