package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"podcastcrawler/internal/metrics"
)

// summaryRequest/summaryResponse mirror Ollama's /api/generate contract.
type summaryRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type summaryResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Summarizer generates a short, human-readable description for an episode
// whose feed-provided description is missing, using a locally hosted
// Ollama model.
type Summarizer struct {
	httpClient      *http.Client
	url             string
	model           string
	maxRetries      int
	maxContentChars int
	maxSummaryWords int
	metrics         *metrics.Metrics
}

// SummarizerConfig tunes the Ollama sidecar.
type SummarizerConfig struct {
	URL             string
	Model           string
	Timeout         time.Duration
	MaxRetries      int
	MaxContentChars int
	MaxSummaryWords int
}

// NewSummarizer builds a Summarizer. m may be nil to disable metrics.
func NewSummarizer(cfg SummarizerConfig, m *metrics.Metrics) *Summarizer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MaxContentChars <= 0 {
		cfg.MaxContentChars = 4000
	}
	if cfg.MaxSummaryWords <= 0 {
		cfg.MaxSummaryWords = 60
	}
	return &Summarizer{
		httpClient:      &http.Client{Timeout: cfg.Timeout},
		url:             cfg.URL,
		model:           cfg.Model,
		maxRetries:      cfg.MaxRetries,
		maxContentChars: cfg.MaxContentChars,
		maxSummaryWords: cfg.MaxSummaryWords,
		metrics:         m,
	}
}

// Summarize produces a concise summary of episodeText, retrying with
// exponential backoff on transport/API failure and observing ctx
// cancellation between attempts.
func (s *Summarizer) Summarize(ctx context.Context, episodeText string) (string, error) {
	if strings.TrimSpace(episodeText) == "" {
		return "", fmt.Errorf("notify: empty episode text")
	}

	prompt := s.buildPrompt(episodeText)

	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		start := time.Now()
		summary, err := s.callOllama(ctx, prompt)
		elapsed := time.Since(start)

		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		if s.metrics != nil {
			s.metrics.NotifyAttempts.WithLabelValues("ollama", outcome).Inc()
		}

		if err == nil {
			return summary, nil
		}

		lastErr = err
		log.Printf("notify: ollama attempt %d/%d failed: %v (%s)", attempt, s.maxRetries, err, elapsed)

		if attempt < s.maxRetries {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("notify: summarization cancelled: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}
	}

	return "", fmt.Errorf("notify: summarization failed after %d attempts: %w", s.maxRetries, lastErr)
}

func (s *Summarizer) buildPrompt(text string) string {
	if len(text) > s.maxContentChars {
		text = text[:s.maxContentChars] + "..."
	}
	return fmt.Sprintf(`Summarize the following podcast episode description in %d words or less, in plain factual language:

%s

Summary:`, s.maxSummaryWords, text)
}

func (s *Summarizer) callOllama(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(summaryRequest{Model: s.model, Prompt: prompt, Stream: false})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed summaryResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("ollama error: %s", parsed.Error)
	}

	summary := strings.TrimSpace(parsed.Response)
	if summary == "" {
		return "", fmt.Errorf("empty summary from ollama")
	}
	return summary, nil
}
