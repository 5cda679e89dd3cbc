// Command feedcheck cross-checks the streaming parser against gofeed's
// document parser for a single feed, printing any disagreement in feed
// fields or episode sets. It exists to catch dispatch-table regressions
// against real-world feeds before they reach the crawler.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/mmcdole/gofeed"

	"podcastcrawler/internal/feed"
	"podcastcrawler/internal/fetcher"
)

func main() {
	feedURL := flag.String("url", "", "feed URL to fetch and check")
	file := flag.String("file", "", "local feed file to check instead of fetching")
	strict := flag.Bool("strict", false, "run the streaming parser in strict mode")
	timeout := flag.Duration("timeout", 30*time.Second, "fetch timeout")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	body, err := loadFeed(*feedURL, *file, *timeout)
	if err != nil {
		log.Fatalf("feedcheck: %v", err)
	}

	opts := feed.DefaultOptions()
	opts.StrictMode = *strict
	streamed, serr := feed.NewParser(opts).Parse(bytes.NewReader(body))

	bulk, berr := gofeed.NewParser().Parse(bytes.NewReader(body))

	if serr != nil || berr != nil {
		fmt.Printf("streaming parser: %v\n", errString(serr))
		fmt.Printf("gofeed parser:    %v\n", errString(berr))
		if (serr == nil) != (berr == nil) {
			os.Exit(1)
		}
		return
	}

	mismatches := compare(streamed, bulk)
	if len(mismatches) == 0 {
		fmt.Printf("ok: %q, %d episodes, parsers agree\n", streamed.Title, len(streamed.Episodes))
		return
	}

	fmt.Printf("%d mismatches for %q:\n", len(mismatches), streamed.Title)
	for _, m := range mismatches {
		fmt.Printf("  - %s\n", m)
	}
	os.Exit(1)
}

func loadFeed(feedURL, file string, timeout time.Duration) ([]byte, error) {
	switch {
	case file != "":
		return os.ReadFile(file)
	case feedURL != "":
		f := fetcher.New(fetcher.Config{
			RequestTimeout: timeout,
			MaxBodyBytes:   16 << 20,
			UserAgent:      "PodcastCrawler/1.0 (feedcheck)",
		}, nil)
		return f.Fetch(context.Background(), feedURL)
	default:
		return nil, fmt.Errorf("one of -url or -file is required")
	}
}

// compare reports where the two parses disagree. gofeed is more permissive
// than the streaming parser (it keeps episodes with no enclosure, for
// example), so episode comparison is by GUID overlap rather than count.
func compare(streamed *feed.PodcastFeed, bulk *gofeed.Feed) []string {
	var out []string

	if streamed.Title != bulk.Title {
		out = append(out, fmt.Sprintf("title: streaming=%q gofeed=%q", streamed.Title, bulk.Title))
	}

	bulkGUIDs := make(map[string]bool, len(bulk.Items))
	for _, item := range bulk.Items {
		if item.GUID != "" {
			bulkGUIDs[item.GUID] = true
		}
	}

	for _, ep := range streamed.Episodes {
		if !bulkGUIDs[ep.GUID] {
			out = append(out, fmt.Sprintf("episode %q: present in streaming parse only", ep.GUID))
		}
	}

	for _, item := range bulk.Items {
		if item.GUID == "" || len(item.Enclosures) == 0 {
			continue // streaming parser drops these in lenient mode
		}
		if !hasEpisode(streamed, item.GUID) {
			out = append(out, fmt.Sprintf("episode %q: present in gofeed parse only", item.GUID))
		}
	}

	return out
}

func hasEpisode(f *feed.PodcastFeed, guid string) bool {
	for _, ep := range f.Episodes {
		if ep.GUID == guid {
			return true
		}
	}
	return false
}

func errString(err error) string {
	if err == nil {
		return "ok"
	}
	return err.Error()
}
