// Package collyfetcher implements the pipeline Fetcher with a Colly
// collector: it fetches a subject's site starting at the configured homepage
// and follows a small set of same-host informational links.
package collyfetcher

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/orbitlabs/orbit/internal/pipeline"
)

// Config controls collector behavior.
type Config struct {
	// UserAgent overrides Colly's default when set.
	UserAgent string
	// Timeout bounds each request (default 15s).
	Timeout time.Duration
	// MaxPages caps pages fetched per subject, homepage included (default 6).
	MaxPages int
	// Subjects maps subject keys to site root URLs.
	Subjects map[string]string
}

const (
	defaultTimeout  = 15 * time.Second
	defaultMaxPages = 6
)

// interestingPaths selects which same-host links get followed beyond the
// homepage. Deliberately coarse; page discovery is not this component's value.
var interestingPaths = []string{
	"about", "company", "team", "product", "pricing", "careers", "news", "blog",
}

// Fetcher fetches a subject's pages. Safe for concurrent use; each Fetch
// clones the base collector.
type Fetcher struct {
	cfg    Config
	logger *zap.Logger
	base   *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	return &Fetcher{cfg: cfg, logger: logger, base: c}
}

// Fetch gathers the subject's homepage plus interesting same-host pages. An
// unknown subject is a permanent failure; network trouble is transient.
func (f *Fetcher) Fetch(ctx context.Context, subjectKey string) (pipeline.PageBundle, error) {
	site, ok := f.cfg.Subjects[subjectKey]
	if !ok {
		return pipeline.PageBundle{}, pipeline.Permanentf("no site configured for subject %q", subjectKey)
	}
	root, err := url.Parse(site)
	if err != nil {
		return pipeline.PageBundle{}, pipeline.Permanentf("invalid site url %q: %v", site, err)
	}

	start := time.Now()
	crawl := newCrawl(root, f.cfg.MaxPages, f.logger)
	collector := f.buildCollector(crawl)

	if err := runCollector(ctx, collector, site, crawl); err != nil {
		return pipeline.PageBundle{}, err
	}
	if len(crawl.pages) == 0 {
		return pipeline.PageBundle{}, pipeline.Transientf("no pages fetched for subject %q", subjectKey)
	}

	f.logger.Info("subject site fetched",
		zap.String("subject", subjectKey),
		zap.Int("pages", len(crawl.pages)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return pipeline.PageBundle{
		SubjectKey: subjectKey,
		Website:    site,
		Pages:      crawl.pages,
		Duration:   time.Since(start),
	}, nil
}

func (f *Fetcher) buildCollector(crawl *crawlState) *colly.Collector {
	collector := f.base.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.AllowedDomains = []string{crawl.root.Hostname()}

	collector.OnResponse(func(r *colly.Response) {
		crawl.record(r)
	})
	collector.OnError(func(r *colly.Response, err error) {
		crawl.fail(r, err)
	})
	return collector
}

// runCollector drives the synchronous collector from a goroutine so the
// caller's context stays authoritative.
func runCollector(ctx context.Context, collector *colly.Collector, site string, crawl *crawlState) error {
	done := make(chan error, 1)
	go func() {
		if err := collector.Visit(site); err != nil {
			done <- fmt.Errorf("visit %s: %w", site, err)
			return
		}
		for _, link := range crawl.followups() {
			if ctx.Err() != nil {
				break
			}
			// Follow-up failures are tolerated; the homepage carries the
			// crawl.
			_ = collector.Visit(link)
		}
		done <- nil
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return crawl.classify(err)
		}
		if len(crawl.pages) == 0 && crawl.firstErr != nil {
			return crawl.classify(crawl.firstErr)
		}
		return nil
	}
}

// crawlState accumulates pages and candidate links across collector
// callbacks.
type crawlState struct {
	root     *url.URL
	maxPages int
	logger   *zap.Logger

	mu        sync.Mutex
	pages     map[string]pipeline.Page
	links     []string
	seen      map[string]bool
	firstErr  error
	errStatus int
}

func newCrawl(root *url.URL, maxPages int, logger *zap.Logger) *crawlState {
	return &crawlState{
		root:     root,
		maxPages: maxPages,
		logger:   logger,
		pages:    make(map[string]pipeline.Page),
		seen:     make(map[string]bool),
	}
}

func (c *crawlState) record(r *colly.Response) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
	if err != nil {
		c.logger.Debug("unparseable page skipped",
			zap.String("url", r.Request.URL.String()), zap.Error(err))
		return
	}

	pageURL := r.Request.URL.String()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pages) >= c.maxPages {
		return
	}
	c.pages[pageURL] = pipeline.Page{
		URL:        pageURL,
		Title:      strings.TrimSpace(doc.Find("title").First().Text()),
		Text:       visibleText(doc),
		StatusCode: r.StatusCode,
		FetchedAt:  time.Now().UTC(),
	}
	c.harvestLinks(doc, r.Request.URL)
}

// harvestLinks assumes c.mu is held.
func (c *crawlState) harvestLinks(doc *goquery.Document, base *url.URL) {
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		resolved, err := base.Parse(href)
		if err != nil || resolved.Hostname() != c.root.Hostname() {
			return
		}
		resolved.Fragment = ""
		link := resolved.String()
		if c.seen[link] || !interesting(resolved.Path) {
			return
		}
		c.seen[link] = true
		c.links = append(c.links, link)
	})
}

func (c *crawlState) fail(r *colly.Response, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.firstErr == nil {
		c.firstErr = err
		if r != nil {
			c.errStatus = r.StatusCode
		}
	}
}

func (c *crawlState) followups() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	budget := c.maxPages - len(c.pages)
	if budget <= 0 {
		return nil
	}
	if budget > len(c.links) {
		budget = len(c.links)
	}
	return append([]string(nil), c.links[:budget]...)
}

// classify maps a crawl failure to the pipeline taxonomy: 4xx responses are
// permanent, everything else (timeouts, 5xx, connection trouble) transient.
func (c *crawlState) classify(err error) error {
	c.mu.Lock()
	status := c.errStatus
	c.mu.Unlock()
	if status >= 400 && status < 500 {
		return pipeline.Permanent(err)
	}
	return pipeline.Transient(err)
}

func interesting(path string) bool {
	lower := strings.ToLower(path)
	for _, fragment := range interestingPaths {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// visibleText extracts readable body text, collapsing whitespace runs.
func visibleText(doc *goquery.Document) string {
	doc.Find("script, style, noscript").Remove()
	return strings.Join(strings.Fields(doc.Find("body").Text()), " ")
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
