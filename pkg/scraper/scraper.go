// Package scraper loads web pages as documents for ingestion.
package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xhad/aibots/internal/models"
	"github.com/xhad/aibots/internal/types"
)

type ScraperConfig struct {
	BaseURL           string
	MaxDepth          int
	RateLimit         float64 // requests per second
	IgnorePatterns    []string
	AllowedExtensions []string
	Timeout           time.Duration
	OnProgress        func(url string)
	Logger            *zap.Logger
}

// Scraper crawls pages on the host of BaseURL. It is not safe for concurrent
// use.
type Scraper struct {
	config   ScraperConfig
	client   *http.Client
	visited  map[string]bool
	limiter  *rate.Limiter
	baseHost string
	logger   *zap.Logger
}

func NewWithConfig(config ScraperConfig) (*Scraper, error) {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxDepth == 0 {
		config.MaxDepth = 3
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2 // 2 requests per second by default
	}
	if len(config.AllowedExtensions) == 0 {
		config.AllowedExtensions = []string{".html", ".htm", "/", ""}
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	parsedURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base URL: %v", types.ErrInput, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("%w: base URL must be http or https: %s", types.ErrInput, config.BaseURL)
	}

	return &Scraper{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		visited:  make(map[string]bool),
		limiter:  rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		baseHost: parsedURL.Host,
		logger:   config.Logger,
	}, nil
}

func (s *Scraper) shouldProcessURL(urlStr string) bool {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	if parsedURL.Host != s.baseHost {
		return false
	}

	ext := strings.ToLower(parsedURL.Path)
	validExt := false
	for _, allowedExt := range s.config.AllowedExtensions {
		if strings.HasSuffix(ext, allowedExt) {
			validExt = true
			break
		}
	}
	if !validExt {
		return false
	}

	for _, pattern := range s.config.IgnorePatterns {
		if strings.Contains(urlStr, pattern) {
			return false
		}
	}

	return true
}

var noisePatterns = []string{
	"Cookie Policy",
	"Accept Cookies",
	"Privacy Policy",
	"Terms of Service",
}

func cleanContent(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	for _, pattern := range noisePatterns {
		content = strings.ReplaceAll(content, pattern, "")
	}
	return strings.TrimSpace(content)
}

func extractMainContent(doc *goquery.Document) string {
	selectors := []string{
		"main",
		"article",
		".content",
		"#content",
		".documentation",
		"#documentation",
	}

	var content string
	for _, selector := range selectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			content = selected.Text()
			break
		}
	}

	// Fallback to body if no main content found
	if content == "" {
		content = doc.Find("body").Text()
	}

	return cleanContent(content)
}

// Scrape fetches rawURL and the same-host pages it links to, up to MaxDepth.
// A failure on the first page is returned; failures on linked pages are
// logged and skipped.
func (s *Scraper) Scrape(ctx context.Context, rawURL string) ([]models.Document, error) {
	var documents []models.Document
	if err := s.scrapeRecursive(ctx, rawURL, 0, &documents); err != nil {
		return nil, err
	}
	return documents, nil
}

func (s *Scraper) scrapeRecursive(ctx context.Context, urlStr string, depth int, documents *[]models.Document) error {
	if depth > s.config.MaxDepth || s.visited[urlStr] {
		return nil
	}
	if !s.shouldProcessURL(urlStr) {
		return nil
	}

	s.visited[urlStr] = true
	if s.config.OnProgress != nil {
		s.config.OnProgress(urlStr)
	}

	doc, document, err := s.fetch(ctx, urlStr, depth)
	if err != nil {
		return err
	}
	if document.Content != "" {
		*documents = append(*documents, document)
	}

	base, err := url.Parse(urlStr)
	if err != nil {
		return err
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, selection *goquery.Selection) {
		href, _ := selection.Attr("href")
		ref, err := url.Parse(href)
		if err != nil {
			s.logger.Debug("scrape.bad_link", zap.String("href", href), zap.Error(err))
			return
		}
		resolved := base.ResolveReference(ref)
		resolved.Fragment = ""
		links = append(links, resolved.String())
	})

	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.scrapeRecursive(ctx, link, depth+1, documents); err != nil {
			s.logger.Warn("scrape.page_failed", zap.String("url", link), zap.Error(err))
		}
	}

	return nil
}

func (s *Scraper) fetch(ctx context.Context, urlStr string, depth int) (*goquery.Document, models.Document, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, models.Document{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, models.Document{}, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, models.Document{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, models.Document{}, fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, urlStr)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, models.Document{}, err
	}

	s.logger.Debug("scrape.page", zap.String("url", urlStr), zap.Int("depth", depth))

	return doc, models.Document{
		URL:     urlStr,
		Title:   strings.TrimSpace(doc.Find("title").Text()),
		Content: extractMainContent(doc),
		Metadata: map[string]string{
			"depth":         strconv.Itoa(depth),
			"fetched_at":    time.Now().UTC().Format(time.RFC3339),
			"content_type":  resp.Header.Get("Content-Type"),
			"last_modified": resp.Header.Get("Last-Modified"),
		},
	}, nil
}
