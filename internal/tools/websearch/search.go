package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/ollm-core/agentcore/internal/agent"
)

// Config configures the web_search tool.
type Config struct {
	// BaseURL is the HTML search endpoint. Default: DuckDuckGo's HTML
	// frontend.
	BaseURL string

	// MaxResults caps how many results are returned. Default: 5.
	MaxResults int

	// Timeout bounds one search. Default: 15s.
	Timeout time.Duration

	// UserAgent overrides the request User-Agent.
	UserAgent string
}

const defaultSearchURL = "https://html.duckduckgo.com/html/"

// SearchResult is one search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// WebSearchTool queries one HTML search backend and returns the top
// results as titled links. It deliberately has no multi-backend
// fallback, caching layer, or content pipeline.
type WebSearchTool struct {
	config Config
	client *http.Client
}

// NewWebSearchTool creates the search tool, filling zero config fields
// with defaults.
func NewWebSearchTool(config *Config) *WebSearchTool {
	cfg := Config{}
	if config != nil {
		cfg = *config
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultSearchURL
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultFetchTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	return &WebSearchTool{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web and return the top results as titled links with snippets."
}

func (t *WebSearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "The search query."},
			"max_results": {"type": "integer", "minimum": 1, "description": "Maximum results to return (default 5)."}
		},
		"required": ["query"]
	}`)
}

type searchParams struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

// Execute runs one search and formats the hits for the model.
func (t *WebSearchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p searchParams
	if err := json.Unmarshal(params, &p); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	p.Query = strings.TrimSpace(p.Query)
	if p.Query == "" {
		return toolError("query is required"), nil
	}
	limit := t.config.MaxResults
	if p.MaxResults > 0 && p.MaxResults < limit {
		limit = p.MaxResults
	}

	results, err := t.search(ctx, p.Query, limit)
	if err != nil {
		return toolError(fmt.Sprintf("search failed: %v", err)), nil
	}
	if len(results) == 0 {
		return &agent.ToolResult{Content: "no results for: " + p.Query}, nil
	}

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", r.Snippet)
		}
	}
	return &agent.ToolResult{Content: b.String()}, nil
}

// search POSTs the query to the HTML backend and scrapes result links
// out of the response.
func (t *WebSearchTool) search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.BaseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", t.config.UserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("backend returned status %d", resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, err
	}
	return parseResults(doc, limit), nil
}

// parseResults walks the DuckDuckGo HTML frontend's result markup:
// each hit is an <a class="result__a"> link, with the snippet in a
// sibling element classed "result__snippet".
func parseResults(doc *html.Node, limit int) []SearchResult {
	var results []SearchResult
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if len(results) >= limit {
			return
		}
		if n.Type == html.ElementNode && n.Data == "a" && hasClass(n, "result__a") {
			result := SearchResult{
				Title: strings.TrimSpace(nodeText(n)),
				URL:   cleanResultURL(attrValue(n, "href")),
			}
			if result.Title != "" && result.URL != "" {
				results = append(results, result)
			}
		}
		if n.Type == html.ElementNode && hasClass(n, "result__snippet") && len(results) > 0 {
			if results[len(results)-1].Snippet == "" {
				results[len(results)-1].Snippet = strings.TrimSpace(nodeText(n))
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return results
}

// cleanResultURL unwraps the backend's redirect links (uddg=<target>)
// down to the destination URL.
func cleanResultURL(href string) string {
	if href == "" {
		return ""
	}
	if parsed, err := url.Parse(href); err == nil {
		if target := parsed.Query().Get("uddg"); target != "" {
			if unescaped, err := url.QueryUnescape(target); err == nil {
				return unescaped
			}
		}
	}
	if strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	return href
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attrValue(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
