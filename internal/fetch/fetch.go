// Package fetch downloads a URL and extracts readable text from HTML, PDF or
// plain-text responses for import into the vault.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	defaultTimeout = 20 * time.Second
	maxBodyBytes   = 10 << 20
	minTextLength  = 200
	userAgent      = "curio/1.0 (+https://github.com/kalambet/curio)"
)

// ErrUnsupportedContent is returned for responses that are neither HTML,
// PDF nor plain text.
var ErrUnsupportedContent = errors.New("fetch: unsupported content type")

// ErrTooShort is returned when extraction yields too little text to be useful.
var ErrTooShort = errors.New("fetch: extracted text too short")

// Page is the extracted content of a URL.
type Page struct {
	URL         string
	Title       string
	Text        string
	ContentType string
}

// Fetcher downloads and extracts pages.
type Fetcher struct {
	httpClient *http.Client
	minText    int
}

func New() *Fetcher {
	return &Fetcher{
		httpClient: &http.Client{Timeout: defaultTimeout},
		minText:    minTextLength,
	}
}

// WithMinText overrides the minimum extracted text length.
func (f *Fetcher) WithMinText(n int) *Fetcher {
	f.minText = n
	return f
}

// Fetch retrieves rawURL and extracts its text.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Page{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/pdf,text/plain;q=0.9,*/*;q=0.5")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("fetching %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Page{}, fmt.Errorf("reading %s: %w", rawURL, err)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "" {
		mediaType = http.DetectContentType(body)
		mediaType, _, _ = mime.ParseMediaType(mediaType)
	}

	page := Page{URL: rawURL, ContentType: mediaType}
	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		page.Title, page.Text, err = ExtractHTML(bytes.NewReader(body))
	case mediaType == "application/pdf" || strings.HasSuffix(strings.ToLower(rawURL), ".pdf"):
		page.Text, err = ExtractPDF(body)
	case strings.HasPrefix(mediaType, "text/"):
		page.Text = string(body)
	default:
		return Page{}, fmt.Errorf("%w: %s", ErrUnsupportedContent, mediaType)
	}
	if err != nil {
		return Page{}, err
	}

	page.Text = cleanText(page.Text)
	if len(page.Text) < f.minText {
		return Page{}, ErrTooShort
	}
	if page.Title == "" {
		page.Title = rawURL
	}
	return page, nil
}

// skipped elements never contribute text.
var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Header:   true,
	atom.Aside:    true,
	atom.Form:     true,
	atom.Svg:      true,
	atom.Template: true,
}

var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Pre: true, atom.Blockquote: true, atom.Section: true, atom.Article: true,
}

// ExtractHTML returns the document title and the visible body text. When the
// page has an <article> or <main> element only its text is used.
func ExtractHTML(r io.Reader) (title, text string, err error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", "", fmt.Errorf("parsing html: %w", err)
	}

	var main *html.Node
	var walkFind func(*html.Node)
	walkFind = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Title:
				if title == "" && n.FirstChild != nil {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
			case atom.Article, atom.Main:
				if main == nil {
					main = n
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walkFind(c)
		}
	}
	walkFind(doc)

	root := doc
	if main != nil {
		root = main
	}

	var sb strings.Builder
	var walkText func(*html.Node)
	walkText = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skipped[n.DataAtom] || n.DataAtom == atom.Head {
				return
			}
			if blockElements[n.DataAtom] {
				sb.WriteString("\n")
			}
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				sb.WriteString(t)
				sb.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walkText(c)
		}
		if n.Type == html.ElementNode && blockElements[n.DataAtom] {
			sb.WriteString("\n")
		}
	}
	walkText(root)

	return title, sb.String(), nil
}

// ExtractPDF returns the plain text of a PDF document. The pdf reader panics
// on some malformed inputs; those panics are returned as errors.
func ExtractPDF(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("extracting pdf text: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	tr, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, tr); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return buf.String(), nil
}

var (
	spaceRuns = regexp.MustCompile(`[ \t]+`)
	lineRuns  = regexp.MustCompile(`\n\s*\n+`)
)

func cleanText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = spaceRuns.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = strings.Join(lines, "\n")
	s = lineRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
