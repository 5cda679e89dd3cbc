package feed

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
)

const itunesNS = "http://www.itunes.com/dtds/podcast-1.0.dtd"

// Parser streams an RSS 2.0 or Atom 1.0 document into a PodcastFeed without
// buffering the whole document. It maintains an element
// path and a namespace-aware dispatch table; unknown tags are ignored but
// recorded for diagnostics. It never panics on malformed XML.
type Parser struct {
	opts Options
}

// NewParser creates a streaming parser with the given policy options.
func NewParser(opts Options) *Parser {
	return &Parser{opts: opts}
}

// Parse reads r and returns the parsed feed, or a *ParseError.
func (p *Parser) Parse(r io.Reader) (*PodcastFeed, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel
	dec.Strict = false

	st := &parseState{opts: p.opts, seenUnknown: make(map[string]bool)}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, newInvalidXML(err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if err := st.handleStart(dec, t); err != nil {
				return nil, err
			}
		case xml.EndElement:
			if err := st.handleEnd(t); err != nil {
				return nil, err
			}
		}
	}

	if st.mode == ModeUnknown {
		return nil, &ParseError{Kind: InvalidRSS, Reason: "no recognized rss/channel or feed root element found"}
	}

	return st.finish()
}

type parseState struct {
	opts Options

	mode Mode
	path []string

	feed PodcastFeed

	curEpisode     *Episode
	curDateSeen    bool
	curDateInvalid bool
	seenUnknown    map[string]bool
}

// pathSegment normalizes an element name into the dispatch key. Feeds that
// use the itunes: prefix without declaring its namespace leave the literal
// prefix in Name.Space, so both spellings are accepted.
func pathSegment(name xml.Name) string {
	if name.Space == itunesNS || name.Space == "itunes" {
		return "itunes:" + name.Local
	}
	return name.Local
}

func isItemContainer(tag string) bool { return tag == "item" || tag == "entry" }

// handleStart processes a StartElement, either locking in the feed mode,
// entering an item/entry, capturing an attribute-borne field, or reading a
// leaf element's text content.
func (st *parseState) handleStart(dec *xml.Decoder, se xml.StartElement) error {
	tag := pathSegment(se.Name)

	// Root lock-in: first matching root wins.
	if st.mode == ModeUnknown {
		switch tag {
		case "rss":
			st.mode = ModeRSS
			return nil // don't push; channel becomes path[0]
		case "feed":
			st.mode = ModeAtom
			st.path = append(st.path, "feed")
			return nil
		default:
			// Ignore preamble/unknown elements before root lock-in by
			// skipping their subtree.
			return st.skipSubtree(dec, se)
		}
	}

	if st.mode == ModeRSS && len(st.path) == 0 {
		if tag != "channel" {
			// Anything at the rss> level besides channel is unrecognized.
			return st.skipSubtree(dec, se)
		}
		st.path = append(st.path, "channel")
		return nil
	}

	container := st.container()

	// Entering an item/entry.
	if !isItemContainer(container) && tag == itemTagFor(st.mode) {
		st.curEpisode = &Episode{}
		st.curDateSeen = false
		st.curDateInvalid = false
		st.path = append(st.path, tag)
		return nil
	}

	st.path = append(st.path, tag)

	switch {
	// --- Attribute-borne fields: self-contained, no useful child content ---
	case tag == "itunes:category" && hasAttr(se, "text"):
		st.feed.Categories = append(st.feed.Categories, attrValue(se, "text"))
		return st.consumeEmptyElement(dec, se)
	case tag == "itunes:image" && hasAttr(se, "href"):
		if isItemContainer(container) {
			if st.curEpisode != nil && st.curEpisode.Image == "" {
				st.curEpisode.Image = attrValue(se, "href")
			}
		} else if st.feed.Image == "" {
			st.feed.Image = attrValue(se, "href")
		}
		return st.consumeEmptyElement(dec, se)
	case tag == "enclosure" && isItemContainer(container):
		st.applyEnclosure(se)
		return st.consumeEmptyElement(dec, se)
	case tag == "link" && st.mode == ModeAtom && hasAttr(se, "href"):
		st.applyAtomLink(se, container)
		return st.consumeEmptyElement(dec, se)

	// --- Known containers: let children tokenize normally, pop on EndElement ---
	case tag == "image" && !isItemContainer(container):
		return nil

	// --- Text-bearing leaf fields (and unrecognized simple tags): read and
	// dispatch on close ---
	default:
		suffix2 := st.suffix(2)
		text, err := readElementText(dec, se)
		if err != nil {
			return newInvalidXML(err)
		}
		st.dispatchText(suffix2, container, text)
		// readElementText already consumed through the matching EndElement,
		// so no EndElement token will reach handleEnd for this tag; pop now.
		st.path = st.path[:len(st.path)-1]
		return nil
	}
}

// consumeEmptyElement reads tokens until the EndElement matching se is
// found, tolerating nested content (none expected for attribute-only tags).
func (st *parseState) consumeEmptyElement(dec *xml.Decoder, se xml.StartElement) error {
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return newInvalidXML(err)
		}
		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			if depth == 0 {
				st.path = st.path[:len(st.path)-1]
				return nil
			}
			depth--
		}
	}
}

func (st *parseState) handleEnd(ee xml.EndElement) error {
	tag := pathSegment(ee.Name)

	if st.mode == ModeUnknown {
		return nil
	}

	if len(st.path) == 0 {
		return nil // closing rss>, or unmatched
	}

	top := st.path[len(st.path)-1]
	if top != tag {
		// Mismatched close (shouldn't happen via Token()); ignore defensively.
		return nil
	}

	if isItemContainer(top) {
		if st.curEpisode != nil {
			// In strict mode a required-field or format violation fails the
			// whole parse and no partial feed is emitted; in lenient
			// mode finishEpisode reports no error and simply omits the
			// episode, so any error here is always a strict-mode abort.
			if err := st.finishEpisode(); err != nil {
				return err
			}
		}
		st.curEpisode = nil
	}

	st.path = st.path[:len(st.path)-1]
	return nil
}

func itemTagFor(mode Mode) string {
	if mode == ModeAtom {
		return "entry"
	}
	return "item"
}

// container returns the tag name of the item/entry or channel/feed this
// element's text is relative to, i.e. path[0] normally, or "item"/"entry"
// when inside one.
func (st *parseState) container() string {
	for i := len(st.path) - 1; i >= 0; i-- {
		if isItemContainer(st.path[i]) {
			return st.path[i]
		}
	}
	if len(st.path) > 0 {
		return st.path[0]
	}
	return ""
}

// suffix returns the last n path segments joined by "/".
func (st *parseState) suffix(n int) string {
	if len(st.path) < n {
		return strings.Join(st.path, "/")
	}
	return strings.Join(st.path[len(st.path)-n:], "/")
}

func hasAttr(se xml.StartElement, name string) bool {
	for _, a := range se.Attr {
		if a.Name.Local == name {
			return true
		}
	}
	return false
}

func attrValue(se xml.StartElement, name string) string {
	for _, a := range se.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func (st *parseState) applyEnclosure(se xml.StartElement) {
	if st.curEpisode == nil {
		return
	}
	if url := attrValue(se, "url"); url != "" && st.curEpisode.AudioURL == "" {
		st.curEpisode.AudioURL = url
	}
}

func (st *parseState) applyAtomLink(se xml.StartElement, container string) {
	rel := attrValue(se, "rel")
	href := attrValue(se, "href")
	if href == "" {
		return
	}
	if isItemContainer(container) {
		if st.curEpisode == nil {
			return
		}
		if rel == "enclosure" && st.curEpisode.AudioURL == "" {
			st.curEpisode.AudioURL = href
		}
		return
	}
	if (rel == "" || rel == "alternate") && st.feed.Link == "" {
		st.feed.Link = href
	}
}

// dispatchText applies a leaf text value to the feed or current episode
// based on its path suffix, recording unrecognized tags for diagnostics.
func (st *parseState) dispatchText(suffix2, container, text string) {
	if isItemContainer(container) {
		st.dispatchEpisodeText(suffix2, text)
		return
	}
	st.dispatchFeedText(suffix2, text)
}

func (st *parseState) dispatchFeedText(suffix2, text string) {
	switch suffix2 {
	case "channel/title", "feed/title":
		st.feed.Title = strings.TrimSpace(text)
	case "channel/description", "feed/subtitle":
		st.feed.Description = st.clean(text)
	case "channel/itunes:summary":
		if st.feed.Description == "" {
			st.feed.Description = st.clean(text)
		}
	case "channel/itunes:author":
		st.feed.Author = strings.TrimSpace(text)
	case "channel/language":
		st.feed.Language = strings.TrimSpace(text)
	case "channel/link":
		if st.feed.Link == "" {
			st.feed.Link = strings.TrimSpace(text)
		}
	case "image/url":
		if st.feed.Image == "" {
			st.feed.Image = strings.TrimSpace(text)
		}
	case "channel/category":
		if v := strings.TrimSpace(text); v != "" {
			st.feed.Categories = append(st.feed.Categories, v)
		}
	case "feed/author":
		// Atom <author><name>...</name></author> is read as nested text by
		// readElementText (tags stripped); fall back to raw trim.
		if st.feed.Author == "" {
			st.feed.Author = strings.TrimSpace(stripTags(text))
		}
	case "feed/category":
		if v := strings.TrimSpace(text); v != "" {
			st.feed.Categories = append(st.feed.Categories, v)
		}
	default:
		st.recordUnknown(suffix2)
	}
}

func (st *parseState) dispatchEpisodeText(suffix2, text string) {
	ep := st.curEpisode
	if ep == nil {
		return
	}
	switch suffix2 {
	case "item/title", "entry/title":
		ep.Title = strings.TrimSpace(text)
	case "item/description", "entry/summary":
		ep.Description = st.clean(text)
	case "entry/content":
		if ep.Description == "" {
			ep.Description = st.clean(text)
		}
	case "item/guid", "entry/id":
		ep.GUID = strings.TrimSpace(text)
	case "item/pubDate", "entry/published", "entry/updated":
		st.curDateSeen = true
		if t, ok := parseDate(text); ok {
			if !ep.HasDate {
				ep.PublishedAt = t
				ep.HasDate = true
			}
		} else {
			st.curDateInvalid = true
		}
	case "item/itunes:duration":
		if d, ok := parseDuration(text); ok {
			ep.Duration = d
			ep.HasDuration = true
		}
	default:
		st.recordUnknown(suffix2)
	}
}

func (st *parseState) clean(text string) string {
	if st.opts.CleanHTML {
		return cleanHTML(text)
	}
	return strings.TrimSpace(text)
}

func (st *parseState) recordUnknown(path string) {
	if path == "" || st.seenUnknown[path] {
		return
	}
	st.seenUnknown[path] = true
	st.feed.UnknownTags = append(st.feed.UnknownTags, path)
}

// finishEpisode validates required episode fields and appends the episode
// to the feed, or drops it (lenient) / fails the whole parse (strict).
//
// A date tag present but unparseable is an InvalidFormat violation, not a
// missing field: lenient mode retains the episode with no date, strict mode
// fails the whole parse.
func (st *parseState) finishEpisode() error {
	ep := st.curEpisode

	if st.curDateInvalid {
		if st.opts.StrictMode {
			return newInvalidFormat("pubDate", "unparseable date")
		}
	}

	missing := ""
	switch {
	case ep.GUID == "":
		missing = "guid"
	case !st.curDateSeen:
		missing = "pubDate"
	case ep.AudioURL == "":
		missing = "enclosure.url"
	}

	if missing != "" {
		if st.opts.StrictMode {
			return newMissingField(missing)
		}
		return nil // lenient: drop this episode only
	}

	if st.opts.ValidateURLs && ep.AudioURL != "" && !isAbsoluteHTTPURL(ep.AudioURL) {
		if st.opts.StrictMode {
			return newInvalidFormat("audio_url", "not an absolute http(s) URL")
		}
		return nil
	}

	st.feed.Episodes = append(st.feed.Episodes, *ep)
	return nil
}

func (st *parseState) finish() (*PodcastFeed, error) {
	title := strings.TrimSpace(st.feed.Title)
	if title == "" {
		if st.opts.StrictMode {
			return nil, newMissingField("title")
		}
	}
	st.feed.Title = title

	if st.opts.ValidateURLs {
		if st.feed.Link != "" && !isAbsoluteHTTPURL(st.feed.Link) {
			if st.opts.StrictMode {
				return nil, newInvalidFormat("link", "not an absolute http(s) URL")
			}
			st.feed.Link = ""
		}
		if st.feed.Image != "" && !isAbsoluteHTTPURL(st.feed.Image) {
			if st.opts.StrictMode {
				return nil, newInvalidFormat("image", "not an absolute http(s) URL")
			}
			st.feed.Image = ""
		}
	}

	return &st.feed, nil
}

// skipSubtree discards tokens until the EndElement matching se, used for
// content outside the recognized root before mode lock-in.
func (st *parseState) skipSubtree(dec *xml.Decoder, se xml.StartElement) error {
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return newInvalidXML(err)
		}
		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			if depth == 0 {
				return nil
			}
			depth--
		}
	}
}

// readElementText consumes tokens until the EndElement matching se,
// re-serializing any nested markup as a string (preserving attributes) so
// CDATA/escaped-HTML description fields survive intact for the sanitizer.
func readElementText(dec *xml.Decoder, se xml.StartElement) (string, error) {
	var sb strings.Builder
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			sb.WriteString("<" + t.Name.Local)
			for _, a := range t.Attr {
				fmt.Fprintf(&sb, ` %s="%s"`, a.Name.Local, a.Value)
			}
			sb.WriteString(">")
			depth++
		case xml.EndElement:
			if depth == 0 {
				return sb.String(), nil
			}
			sb.WriteString("</" + t.Name.Local + ">")
			depth--
		case xml.CharData:
			sb.Write(t)
		}
	}
}

// stripTags removes any "<...>" markup left by readElementText's
// re-serialization, used for fields we want as plain text without running
// the full HTML sanitizer (e.g. Atom author name).
func stripTags(s string) string {
	var sb strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
