package scraper

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"github.com/ad/docs-qa/internal/types"
)

const userAgent = "Mozilla/5.0 (compatible; docs-qa/1.0; +https://github.com/ad/docs-qa)"

var (
	multiNewlineRe = regexp.MustCompile(`\n{3,}`)
	spaceRe        = regexp.MustCompile(`[ \t]+`)
	whitespaceRe   = regexp.MustCompile(`\s+`)
	filenameRe     = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)
)

// Config configures a Scraper.
type Config struct {
	// AllowedDomain restricts visits to one host; empty allows any.
	AllowedDomain string
	// ContentSelector picks the main article element; the whole body is used when it matches nothing.
	ContentSelector string
	RequestDelay    time.Duration
}

// Scraper loads documentation pages and extracts their title and readable text.
type Scraper struct {
	cfg    Config
	policy *bluemonday.Policy
	log    zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) *Scraper {
	if cfg.ContentSelector == "" {
		cfg.ContentSelector = "main"
	}
	return &Scraper{
		cfg:    cfg,
		policy: bluemonday.StrictPolicy(),
		log:    log.With().Str("component", "scraper").Logger(),
	}
}

// Fetch visits every URL once, in order, and returns the pages that loaded.
// Pages that fail are logged and skipped; an error is returned only when none loaded.
func (s *Scraper) Fetch(ctx context.Context, urls []string) ([]types.Document, error) {
	opts := []colly.CollectorOption{}
	if s.cfg.AllowedDomain != "" {
		opts = append(opts, colly.AllowedDomains(s.cfg.AllowedDomain))
	}
	c := colly.NewCollector(opts...)
	c.UserAgent = userAgent
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       s.cfg.RequestDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limit: %w", err)
	}

	var (
		mu   sync.Mutex
		docs []types.Document
		errs []error
	)

	c.OnHTML("html", func(e *colly.HTMLElement) {
		doc := s.extractDocument(e)
		if strings.TrimSpace(doc.Content) == "" {
			s.log.Warn().Str("url", doc.URL).Msg("page has no readable content")
			return
		}
		mu.Lock()
		docs = append(docs, doc)
		mu.Unlock()
	})

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		s.log.Debug().Str("url", r.URL.String()).Msg("loading page")
	})

	c.OnError(func(r *colly.Response, err error) {
		s.log.Debug().Err(err).Str("url", r.Request.URL.String()).Int("status", r.StatusCode).Msg("request failed")
	})

	for _, u := range urls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := c.Visit(u); err != nil {
			s.log.Warn().Err(err).Str("url", u).Msg("skipping page")
			errs = append(errs, fmt.Errorf("%s: %w", u, err))
		}
	}
	c.Wait()

	s.log.Info().Int("pages", len(docs)).Int("failed", len(errs)).Msg("documentation loaded")
	if len(docs) == 0 {
		if len(errs) == 0 {
			return nil, errors.New("no pages loaded")
		}
		return nil, fmt.Errorf("no pages loaded: %w", errors.Join(errs...))
	}
	return docs, nil
}

// SitemapURLs lists the page locations in a sitemap.xml that start with prefix.
func (s *Scraper) SitemapURLs(ctx context.Context, sitemapURL, prefix string) ([]string, error) {
	c := colly.NewCollector()
	c.UserAgent = userAgent

	var urls []string
	c.OnXML("//urlset/url/loc", func(e *colly.XMLElement) {
		loc := strings.TrimSpace(e.Text)
		if strings.HasPrefix(loc, prefix) {
			urls = append(urls, loc)
		}
	})
	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})

	if err := c.Visit(sitemapURL); err != nil {
		return nil, fmt.Errorf("load sitemap %s: %w", sitemapURL, err)
	}
	c.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.log.Info().Str("sitemap", sitemapURL).Str("prefix", prefix).Int("pages", len(urls)).Msg("sitemap loaded")
	return urls, nil
}

func (s *Scraper) extractDocument(e *colly.HTMLElement) types.Document {
	pageURL := e.Request.URL.String()

	title := strings.TrimSpace(e.DOM.Find("h1").First().Text())
	if title == "" {
		title = strings.TrimSpace(e.DOM.Find("title").First().Text())
	}

	root := e.DOM.Find(s.cfg.ContentSelector).First()
	if root.Length() == 0 {
		root = e.DOM.Find("body").First()
	}

	content := extractTextWithStructure(root)
	if content == "" {
		content = s.sanitizedText(root)
	}

	return types.Document{
		ID:      DocumentID(pageURL),
		Title:   title,
		URL:     pageURL,
		Content: content,
	}
}

// sanitizedText strips all markup from the selection's HTML.
func (s *Scraper) sanitizedText(sel *goquery.Selection) string {
	raw, err := sel.Html()
	if err != nil {
		return ""
	}
	return cleanText(html.UnescapeString(s.policy.Sanitize(raw)))
}

// extractTextWithStructure renders block elements as light markdown so headings,
// paragraphs and list items survive as separate lines.
func extractTextWithStructure(sel *goquery.Selection) string {
	var result strings.Builder
	sel.Contents().Each(func(_ int, child *goquery.Selection) {
		processElement(child, &result)
	})
	return cleanText(result.String())
}

func processElement(el *goquery.Selection, result *strings.Builder) {
	tagName := goquery.NodeName(el)

	switch tagName {
	case "#text":
		result.WriteString(whitespaceRe.ReplaceAllString(el.Text(), " "))
	case "br":
		result.WriteString("\n")
	case "#comment", "script", "style", "noscript", "nav", "footer", "header", "aside", "svg", "img", "button", "form":
	case "h1", "h2", "h3", "h4", "h5", "h6":
		if text := strings.TrimSpace(el.Text()); text != "" {
			level := strings.Repeat("#", int(tagName[1]-'0'))
			result.WriteString(level + " " + text + "\n\n")
		}
	case "p", "blockquote", "dt", "dd":
		if text := strings.TrimSpace(el.Text()); text != "" {
			result.WriteString(text + "\n\n")
		}
	case "pre":
		if text := strings.Trim(el.Text(), "\n"); strings.TrimSpace(text) != "" {
			result.WriteString(text + "\n\n")
		}
	case "ul", "ol":
		result.WriteString("\n")
		el.ChildrenFiltered("li").Each(func(i int, li *goquery.Selection) {
			text := strings.TrimSpace(li.Text())
			if text == "" {
				return
			}
			if tagName == "ul" {
				result.WriteString("- " + text + "\n")
			} else {
				result.WriteString(fmt.Sprintf("%d. %s\n", i+1, text))
			}
		})
		result.WriteString("\n")
	case "table":
		el.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			var cells []string
			tr.Children().Each(func(_ int, td *goquery.Selection) {
				cells = append(cells, strings.TrimSpace(td.Text()))
			})
			result.WriteString(strings.Join(cells, " | ") + "\n")
		})
		result.WriteString("\n")
	case "a", "strong", "b", "em", "i", "u", "s", "code", "span", "kbd", "mark", "small", "sub", "sup", "abbr", "cite", "q", "time", "label":
		el.Contents().Each(func(_ int, child *goquery.Selection) {
			processElement(child, result)
		})
	default:
		el.Contents().Each(func(_ int, child *goquery.Selection) {
			processElement(child, result)
		})
		result.WriteString("\n\n")
	}
}

// cleanText collapses runs of blank lines and horizontal whitespace.
func cleanText(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = spaceRe.ReplaceAllString(strings.TrimSpace(line), " ")
	}
	text = strings.Join(lines, "\n")
	text = multiNewlineRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// DocumentID derives a stable, filesystem-safe id from a page URL.
func DocumentID(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return sanitizeFilename(pageURL)
	}
	id := sanitizeFilename(strings.Trim(u.Host+"_"+strings.ReplaceAll(strings.Trim(u.Path, "/"), "/", "_"), "_"))
	if id == "" {
		return "page"
	}
	return id
}

func sanitizeFilename(s string) string {
	return strings.Trim(filenameRe.ReplaceAllString(s, "_"), "_")
}

// WritePages stores documents as markdown files that the parser package can load back.
func WritePages(dir string, docs []types.Document) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create pages dir: %w", err)
	}
	for _, doc := range docs {
		content := fmt.Sprintf("# %s\n\n**URL:** %s\n\n%s\n", doc.Title, doc.URL, doc.Content)
		path := filepath.Join(dir, doc.ID+".md")
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write page %s: %w", path, err)
		}
	}
	return nil
}
