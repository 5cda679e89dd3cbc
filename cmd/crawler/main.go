// Command crawler wires the task manager, fetcher, parser, host health
// tracking, metrics, HTTP API, and persistence/notification sidecars into
// one process, and owns graceful shutdown.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"podcastcrawler/internal/config"
	"podcastcrawler/internal/feed"
	"podcastcrawler/internal/fetcher"
	"podcastcrawler/internal/hosthealth"
	"podcastcrawler/internal/httpapi"
	"podcastcrawler/internal/metrics"
	"podcastcrawler/internal/notify"
	"podcastcrawler/internal/store"
	"podcastcrawler/internal/taskmanager"
)

func main() {
	schedule := flag.String("schedule", "", "cron expression for periodic batch re-submission of FEEDS_FILE (overrides CRON_SCHEDULE)")
	flag.Parse()

	cfg := config.Load()
	if *schedule != "" {
		cfg.App.CronSchedule = *schedule
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting podcast feed crawler")

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	log.Println("Prometheus metrics initialized")

	db, err := initDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	feedStore := store.New(db)

	f := fetcher.New(fetcher.Config{
		RequestTimeout:   cfg.Crawler.RequestTimeout,
		MaxBodyBytes:     cfg.Crawler.MaxBodyBytes,
		UserAgent:        cfg.Crawler.UserAgent,
		MaxRedirects:     cfg.Crawler.MaxRedirects,
		MaxConcurrentReq: cfg.Crawler.MaxConcurrentReq,
	}, m)

	p := feed.NewParser(feed.Options{
		StrictMode:   cfg.Parser.StrictMode,
		CleanHTML:    cfg.Parser.CleanHTML,
		ValidateURLs: cfg.Parser.ValidateURLs,
	})

	hosts := hosthealth.NewTracker(hosthealth.DefaultConfig, m)

	var discordSender *notify.DiscordSender
	if len(cfg.Discord.WebhookURLs) > 0 {
		discordSender = notify.NewDiscordSender(cfg.Discord.Timeout, cfg.Discord.MaxRetries, m)
	}
	summarizer := notify.NewSummarizer(notify.SummarizerConfig{
		URL:        cfg.OLLAMA.URL,
		Model:      cfg.OLLAMA.Model,
		Timeout:    cfg.OLLAMA.Timeout,
		MaxRetries: cfg.OLLAMA.MaxRetries,
	}, m)

	tm := taskmanager.New(taskmanager.Config{
		MaxConcurrency:  cfg.Crawler.MaxConcurrency,
		InboxCapacity:   cfg.Crawler.InboxCapacity,
		MaxRetries:      uint(cfg.Crawler.MaxRetries),
		RequestTimeout:  cfg.Crawler.RequestTimeout,
		BackoffBase:     cfg.Crawler.BackoffBase,
		BackoffCap:      cfg.Crawler.BackoffCap,
		SubmitTimeout:   cfg.Crawler.SubmitTimeout,
		ShutdownTimeout: cfg.Crawler.ShutdownTimeout,
		OnResult: func(result *taskmanager.TaskResult) {
			persistAndNotify(context.Background(), result, feedStore, discordSender, summarizer, cfg, m)
		},
	}, f, p, m, hosts)

	api := httpapi.New(tm, feedStore, m, reg, hosts, httpapi.Config{
		Addr:               fmt.Sprintf(":%d", cfg.App.Port),
		CORSAllowedOrigins: cfg.Security.CORSAllowedOrigins,
		CORSAllowedMethods: cfg.Security.CORSAllowedMethods,
		CORSAllowedHeaders: cfg.Security.CORSAllowedHeaders,
		ReadTimeout:        cfg.Performance.HTTPReadTimeout,
		WriteTimeout:       cfg.Performance.HTTPWriteTimeout,
		IdleTimeout:        cfg.Performance.HTTPIdleTimeout,
		MetricsPath:        cfg.Prometheus.MetricsPath,
	})

	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := api.ListenAndServe(); err != nil {
			log.Printf("httpapi server stopped: %v", err)
		}
	}()

	var cronRunner *cron.Cron
	if cfg.App.CronSchedule != "" {
		cronRunner = startCronSubmitter(cfg, tm)
	}

	<-sigChan
	log.Println("Shutdown signal received, stopping services...")

	if cronRunner != nil {
		stopCtx := cronRunner.Stop()
		<-stopCtx.Done()
	}

	if err := tm.Shutdown(cfg.Crawler.ShutdownTimeout); err != nil {
		log.Printf("Error during task manager shutdown: %v", err)
	}

	cancel()
	wg.Wait()
	log.Println("All services stopped successfully")
}

// persistAndNotify is the downstream consumer of a completed TaskResult:
// it upserts the parsed feed, then upserts, summarizes and announces the
// episodes that pass the configured cutoff/initiation filter. It runs on
// its own goroutine per result (see taskmanager.Config.OnResult), so a slow
// database or webhook never backs up the worker pool.
func persistAndNotify(ctx context.Context, result *taskmanager.TaskResult, s *store.Store, d *notify.DiscordSender, summarizer *notify.Summarizer, cfg *config.Config, m *metrics.Metrics) {
	if !result.Success || result.Data == nil {
		return
	}

	feedRec, err := s.UpsertFeed(result.URL, result.Data)
	if err != nil {
		log.Printf("persist: upsert feed %s: %v", result.URL, err)
		if m != nil {
			m.StoreErrors.WithLabelValues("upsert_feed").Inc()
		}
		return
	}

	episodes := feed.FilterEpisodes(result.Data.Episodes, cfg.App.EpisodeCutoffDate, cfg.App.InitiationDate)

	episodeRecs, err := s.UpsertEpisodes(feedRec.ID, episodes)
	if err != nil {
		log.Printf("persist: upsert episodes for feed %s: %v", result.URL, err)
		if m != nil {
			m.StoreErrors.WithLabelValues("upsert_episodes").Inc()
		}
		return
	}
	if m != nil {
		m.StoreUpserts.Add(float64(1 + len(episodeRecs)))
	}

	if d == nil && summarizer == nil {
		return
	}

	for i, ep := range episodes {
		summary := ep.Description
		if strings.TrimSpace(summary) == "" && summarizer != nil {
			if s, err := summarizer.Summarize(ctx, ep.Title); err == nil {
				summary = s
			} else {
				log.Printf("notify: summarize episode %q: %v", ep.Title, err)
			}
		}

		if d == nil {
			continue
		}
		ann := notify.EpisodeAnnouncement{
			FeedTitle:    result.Data.Title,
			EpisodeTitle: ep.Title,
			EpisodeURL:   ep.AudioURL,
			Summary:      summary,
			PublishedAt:  ep.PublishedAt,
		}
		for _, webhookURL := range cfg.Discord.WebhookURLs {
			if err := d.Send(ctx, webhookURL, ann); err != nil {
				log.Printf("notify: send episode %d of feed %s: %v", i, result.URL, err)
			}
		}
	}
}

func startCronSubmitter(cfg *config.Config, tm *taskmanager.TaskManager) *cron.Cron {
	c := cron.New()
	_, err := c.AddFunc(cfg.App.CronSchedule, func() {
		urls, err := loadFeeds(cfg.App.FeedsFile)
		if err != nil {
			log.Printf("cron: failed to load feeds file: %v", err)
			return
		}
		ids, errs := tm.SubmitBatch(urls)
		log.Printf("cron: submitted batch of %d urls (%d failures)", len(ids), len(errs))
	})
	if err != nil {
		log.Fatalf("cron: invalid schedule %q: %v", cfg.App.CronSchedule, err)
	}
	c.Start()
	log.Printf("cron: scheduled batch re-submission %q", cfg.App.CronSchedule)
	return c
}

func loadFeeds(filename string) ([]string, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var feeds []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			feeds = append(feeds, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return feeds, nil
}

func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.GetConnectionString())
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := store.Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	log.Println("Database connection established")
	return db, nil
}
