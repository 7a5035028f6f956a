package parser

import (
	"bufio"
	"bytes"
	"fmt"
	"html"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gomarkdown/markdown"
	mdparser "github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"github.com/ad/docs-qa/internal/scraper"
	"github.com/ad/docs-qa/internal/types"
)

var (
	urlRegex       = regexp.MustCompile(`^\*\*URL:\*\*\s+(.+)`)
	multiNewlineRe = regexp.MustCompile(`\n{3,}`)
)

// MarkdownParser loads documentation pages stored as markdown files, either written by
// scraper.WritePages or authored by hand.
type MarkdownParser struct {
	policy *bluemonday.Policy
	log    zerolog.Logger
}

func NewMarkdownParser(log zerolog.Logger) *MarkdownParser {
	return &MarkdownParser{
		policy: bluemonday.StrictPolicy(),
		log:    log.With().Str("component", "parser").Logger(),
	}
}

// ParseDirectory parses every .md file under dirPath. Files that fail to parse are logged and skipped.
func (p *MarkdownParser) ParseDirectory(dirPath string) ([]types.Document, error) {
	var documents []types.Document

	err := filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".md" {
			return nil
		}

		doc, err := p.ParseFile(path)
		if err != nil {
			p.log.Warn().Err(err).Str("file", path).Msg("skipping unparseable file")
			return nil
		}
		if doc.Content == "" {
			p.log.Warn().Str("file", path).Msg("skipping empty file")
			return nil
		}
		documents = append(documents, doc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dirPath, err)
	}

	return documents, nil
}

// ParseFile reads the "# title" line and optional "**URL:** ..." line, then renders the
// remaining markdown to plain text.
func (p *MarkdownParser) ParseFile(filePath string) (types.Document, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return types.Document{}, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return types.Document{}, err
	}

	var title, url string
	for i, line := range lines {
		if strings.HasPrefix(line, "# ") {
			title = strings.TrimSpace(strings.TrimPrefix(line, "# "))
			lines = lines[i+1:]
			break
		}
	}
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if match := urlRegex.FindStringSubmatch(line); len(match) > 1 {
			url = strings.TrimSpace(match[1])
			lines = lines[i+1:]
		}
		break
	}

	id := strings.TrimSuffix(filepath.Base(filePath), ".md")
	if url == "" {
		url = filePath
	} else {
		id = scraper.DocumentID(url)
	}

	return types.Document{
		ID:      id,
		Title:   title,
		URL:     url,
		Content: p.PlainText(strings.Join(lines, "\n")),
	}, nil
}

// PlainText renders markdown to HTML and strips every tag, keeping the readable text.
func (p *MarkdownParser) PlainText(md string) string {
	parser := mdparser.NewWithExtensions(mdparser.CommonExtensions)
	rendered := markdown.ToHTML([]byte(md), parser, nil)
	text := html.UnescapeString(p.policy.SanitizeReader(bytes.NewReader(rendered)).String())

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	text = multiNewlineRe.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(text)
}
