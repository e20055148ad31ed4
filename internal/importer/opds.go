package importer

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed/atom"
)

const (
	maxDepth = 3
	maxPages = 50

	relNext       = "next"
	relSubsection = "subsection"
	relCatalog    = "http://opds-spec.org/catalog"
)

// Entry is one book as described by the feed.
type Entry struct {
	Title     string
	Author    string
	Summary   string
	ISBN      string
	FeedTitle string
	Updated   time.Time
}

// Crawler walks an OPDS catalog breadth first.
type Crawler struct {
	client   *http.Client
	username string
	password string
}

func NewCrawler(username, password string, debug bool) *Crawler {
	return &Crawler{
		client: &http.Client{
			Transport: &LoggingTransport{Debug: debug},
			Timeout:   time.Minute,
		},
		username: username,
		password: password,
	}
}

type queued struct {
	url   string
	depth int
}

// Crawl returns every titled entry reachable from rootURL. Entries updated at
// or before since are dropped; a zero since keeps everything. Pages that fail
// to load are logged and skipped.
func (c *Crawler) Crawl(ctx context.Context, rootURL string, since time.Time) ([]Entry, error) {
	if rootURL == "" {
		return nil, fmt.Errorf("OPDS URL is not configured")
	}

	var entries []Entry
	visited := make(map[string]bool)
	queue := []queued{{rootURL, 0}}
	processed := 0

	for len(queue) > 0 && processed < maxPages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		current := queue[0]
		queue = queue[1:]

		if visited[current.url] {
			continue
		}
		visited[current.url] = true
		processed++

		found, next, subsections, err := c.fetchPage(ctx, current.url, since)
		if err != nil {
			if processed == 1 {
				return nil, err
			}
			log.Printf("[Importer] Error fetching page %s: %v", current.url, err)
			continue
		}
		entries = append(entries, found...)

		// Pagination stays at the same depth.
		if next != "" && !visited[next] {
			queue = append(queue, queued{next, current.depth})
		}

		if current.depth < maxDepth {
			for _, sub := range subsections {
				if !visited[sub] {
					queue = append(queue, queued{sub, current.depth + 1})
				}
			}
		}
	}

	return entries, nil
}

func (c *Crawler) fetchPage(ctx context.Context, target string, since time.Time) ([]Entry, string, []string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", nil, err
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to fetch OPDS feed from %s: %w", target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, "", nil, fmt.Errorf("OPDS feed returned status: %d", resp.StatusCode)
	}

	feed, err := (&atom.Parser{}).Parse(resp.Body)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to parse OPDS feed as Atom: %w", err)
	}

	base, err := url.Parse(target)
	if err != nil {
		return nil, "", nil, err
	}
	resolve := func(href string) string {
		ref, err := url.Parse(href)
		if err != nil {
			return ""
		}
		return base.ResolveReference(ref).String()
	}

	var (
		entries     []Entry
		subsections []string
	)

	for _, e := range feed.Entries {
		for _, link := range e.Links {
			if isNavigation(link.Rel) {
				if u := resolve(link.Href); u != "" {
					subsections = append(subsections, u)
				}
			}
		}

		title := strings.TrimSpace(e.Title)
		if title == "" {
			continue
		}

		var updated time.Time
		if e.UpdatedParsed != nil {
			updated = *e.UpdatedParsed
		} else if e.PublishedParsed != nil {
			updated = *e.PublishedParsed
		}
		if !since.IsZero() && !updated.IsZero() && !updated.After(since) {
			continue
		}

		entry := Entry{
			Title:     title,
			Summary:   strings.TrimSpace(e.Summary),
			ISBN:      entryISBN(e),
			FeedTitle: strings.TrimSpace(feed.Title),
			Updated:   updated,
		}
		if entry.Summary == "" && e.Content != nil {
			entry.Summary = strings.TrimSpace(e.Content.Value)
		}
		if len(e.Authors) > 0 && e.Authors[0] != nil {
			entry.Author = strings.TrimSpace(e.Authors[0].Name)
		}
		entries = append(entries, entry)
	}

	for _, link := range feed.Links {
		if isNavigation(link.Rel) {
			if u := resolve(link.Href); u != "" {
				subsections = append(subsections, u)
			}
		}
	}

	next := ""
	for _, link := range feed.Links {
		if link.Rel == relNext {
			next = resolve(link.Href)
			break
		}
	}

	return entries, next, subsections, nil
}

func isNavigation(rel string) bool {
	return rel == relSubsection || rel == relCatalog
}

// entryISBN looks for a urn:isbn: identifier in the entry id or its Dublin Core identifiers.
func entryISBN(e *atom.Entry) string {
	candidates := []string{e.ID}
	for _, prefix := range []string{"dc", "dcterms"} {
		for _, ext := range e.Extensions[prefix]["identifier"] {
			candidates = append(candidates, ext.Value)
		}
	}

	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if !strings.HasPrefix(strings.ToLower(c), "urn:isbn:") {
			continue
		}
		if isbn := normalizeISBN(c[len("urn:isbn:"):]); isbn != "" {
			return isbn
		}
	}
	return ""
}

// normalizeISBN strips separators and accepts only 13 digit ISBNs.
func normalizeISBN(raw string) string {
	digits := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9':
			return r
		case r == '-' || r == ' ':
			return -1
		}
		return 'x'
	}, raw)
	if len(digits) != 13 || strings.ContainsRune(digits, 'x') {
		return ""
	}
	return digits
}
