// Package feed implements a streaming RSS 2.0 / Atom 1.0 parser: an
// element-path-tracking state machine over encoding/xml tokens, namespaced
// tag dispatch, optional-field policy (strict vs lenient), and HTML
// sanitization of description/summary fields.
package feed

import "time"

// PodcastFeed is the typed representation of a parsed RSS/Atom document.
type PodcastFeed struct {
	Title       string
	Description string
	Author      string
	Language    string
	Link        string
	Image       string
	Categories  []string
	Episodes    []Episode

	// UnknownTags records each unrecognized/extension tag path seen during
	// the parse, for diagnostics. Each path appears at most once.
	UnknownTags []string
}

// Episode is a single podcast episode parsed from a feed item/entry.
type Episode struct {
	Title       string
	Description string
	GUID        string
	PublishedAt time.Time
	HasDate     bool
	Duration    time.Duration
	HasDuration bool
	AudioURL    string
	Image       string
}

// Mode identifies which feed format the parser locked into after seeing the
// first recognized root element.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeRSS
	ModeAtom
)

// Options configures parser policy.
type Options struct {
	StrictMode   bool // reject feeds with any missing required field
	CleanHTML    bool // sanitize description/summary HTML
	ValidateURLs bool // require absolute HTTP(S) URLs on extracted links
}

// DefaultOptions returns the parser's default policy: lenient, with HTML
// cleaning and URL validation on.
func DefaultOptions() Options {
	return Options{
		StrictMode:   false,
		CleanHTML:    true,
		ValidateURLs: true,
	}
}
