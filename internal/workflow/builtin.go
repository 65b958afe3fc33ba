package workflow

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"time"
)

// Builtin workflow names, as referenced by descriptor `runs` fields.
const (
	NameStaticEvents = "galley.events.static"
	NameFeedPoller   = "galley.content.feed"
)

// RegisterBuiltins installs the workflows that ship with the galley binary.
func RegisterBuiltins(r *Registry) {
	r.Register(NameStaticEvents, newStaticEvents)
	r.RegisterWithTimeout(NameFeedPoller, newFeedPoller, 2*time.Minute)
}

// staticEvents emits one event record per configured title. It exists for
// seeding demo data and for exercising the dispatch pipeline end to end.
type staticEvents struct {
	cfg Config
}

func newStaticEvents(cfg Config) (Workflow, error) {
	return &staticEvents{cfg: cfg}, nil
}

func (s *staticEvents) Setup(ctx context.Context) error { return nil }

func (s *staticEvents) Run(ctx context.Context, out chan<- Record) error {
	titles, _ := s.cfg.Options["event_titles"].([]any)
	for i, t := range titles {
		rec := Record{
			"title":    fmt.Sprint(t),
			"sequence": i,
			"created":  time.Now().UTC().Format(time.RFC3339),
		}
		select {
		case out <- rec:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *staticEvents) Load(ctx context.Context, in <-chan Record) error {
	n := 0
	for range in {
		n++
	}
	s.cfg.Logger.Info("static events emitted", "recipe", s.cfg.Recipe.Slug, "count", n)
	return nil
}

func (s *staticEvents) Teardown(ctx context.Context) (map[string]any, error) {
	return nil, nil
}

// feedPoller fetches an RSS feed and emits items newer than the max publish
// date recorded by the previous run. The checkpoint carries that high-water
// mark forward so reruns only see fresh items.
type feedPoller struct {
	cfg    Config
	client *http.Client

	maxSeen time.Time
}

func newFeedPoller(cfg Config) (Workflow, error) {
	url, _ := cfg.Options["feed_url"].(string)
	if url == "" {
		return nil, fmt.Errorf("workflow: feed poller requires feed_url")
	}
	return &feedPoller{cfg: cfg}, nil
}

func (f *feedPoller) Setup(ctx context.Context) error {
	f.client = &http.Client{Timeout: 30 * time.Second}
	if raw, ok := f.cfg.Kwargs["max_pub_date"].(string); ok {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			f.maxSeen = t
		}
	}
	return nil
}

type rssFeed struct {
	Items []rssItem `xml:"channel>item"`
}

type rssItem struct {
	Title   string `xml:"title"`
	Link    string `xml:"link"`
	PubDate string `xml:"pubDate"`
}

func (f *feedPoller) Run(ctx context.Context, out chan<- Record) error {
	url := f.cfg.Options["feed_url"].(string)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("workflow: feed request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("workflow: fetch feed %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("workflow: fetch feed %s: status %d", url, resp.StatusCode)
	}

	var feed rssFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return fmt.Errorf("workflow: parse feed %s: %w", url, err)
	}

	floor := f.maxSeen
	for _, item := range feed.Items {
		pub, err := time.Parse(time.RFC1123Z, item.PubDate)
		if err != nil {
			if pub, err = time.Parse(time.RFC1123, item.PubDate); err != nil {
				continue
			}
		}
		if !pub.After(floor) {
			continue
		}
		if pub.After(f.maxSeen) {
			f.maxSeen = pub
		}
		rec := Record{
			"title":    item.Title,
			"url":      item.Link,
			"pub_date": pub.UTC().Format(time.RFC3339),
		}
		select {
		case out <- rec:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (f *feedPoller) Load(ctx context.Context, in <-chan Record) error {
	n := 0
	for range in {
		n++
	}
	f.cfg.Logger.Info("feed items ingested", "recipe", f.cfg.Recipe.Slug, "count", n)
	return nil
}

func (f *feedPoller) Teardown(ctx context.Context) (map[string]any, error) {
	if f.maxSeen.IsZero() {
		return nil, nil
	}
	return map[string]any{"max_pub_date": f.maxSeen.UTC().Format(time.RFC3339)}, nil
}
