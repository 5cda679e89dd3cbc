package feed

import (
	"testing"
	"time"
)

func TestIncludeEpisodeCutoff(t *testing.T) {
	cutoff := time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		ep       Episode
		expected bool
	}{
		{
			name:     "published before cutoff",
			ep:       Episode{PublishedAt: time.Date(2025, 5, 30, 23, 59, 59, 0, time.UTC), HasDate: true},
			expected: false,
		},
		{
			name:     "published exactly at cutoff",
			ep:       Episode{PublishedAt: cutoff, HasDate: true},
			expected: true,
		},
		{
			name:     "published after cutoff",
			ep:       Episode{PublishedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), HasDate: true},
			expected: true,
		},
		{
			name:     "no publish date",
			ep:       Episode{HasDate: false},
			expected: false,
		},
		{
			name:     "before cutoff in a different timezone",
			ep:       Episode{PublishedAt: time.Date(2025, 5, 30, 18, 0, 0, 0, time.FixedZone("EST", -5*60*60)), HasDate: true},
			expected: false,
		},
		{
			name:     "exactly at cutoff in a different timezone",
			ep:       Episode{PublishedAt: time.Date(2025, 5, 31, 1, 0, 0, 0, time.FixedZone("CET", 1*60*60)), HasDate: true},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IncludeEpisode(tt.ep, cutoff, time.Time{}); got != tt.expected {
				t.Errorf("IncludeEpisode() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestIncludeEpisodeNoFloors(t *testing.T) {
	ep := Episode{HasDate: false}
	if !IncludeEpisode(ep, time.Time{}, time.Time{}) {
		t.Error("expected episode with no date to pass when no floors are set")
	}
}

func TestIncludeEpisodeInitiationDate(t *testing.T) {
	initiation := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	ep := Episode{PublishedAt: time.Date(2019, 12, 31, 0, 0, 0, 0, time.UTC), HasDate: true}
	if IncludeEpisode(ep, time.Time{}, initiation) {
		t.Error("expected episode published before initiation date to be excluded")
	}
}

func TestFilterEpisodes(t *testing.T) {
	cutoff := time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC)
	episodes := []Episode{
		{Title: "old", PublishedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), HasDate: true},
		{Title: "new", PublishedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), HasDate: true},
	}

	got := FilterEpisodes(episodes, cutoff, time.Time{})
	if len(got) != 1 || got[0].Title != "new" {
		t.Fatalf("FilterEpisodes() = %+v", got)
	}
}

func BenchmarkIncludeEpisode(b *testing.B) {
	cutoff := time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC)
	ep := Episode{PublishedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), HasDate: true}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		IncludeEpisode(ep, cutoff, time.Time{})
	}
}
