// Package websearch provides the runtime's thin web surface: a fetch
// tool that pulls one page and reduces it to readable text (optionally
// scoped by a selector), and a search tool over a single HTML search
// backend. There is no browser automation, crawling, or content
// pipeline here on purpose.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/ollm-core/agentcore/internal/agent"
)

// FetchConfig configures the web_fetch tool.
type FetchConfig struct {
	// Timeout bounds one fetch. Default: 15s.
	Timeout time.Duration

	// MaxBodyBytes caps how much of a response is read. Default: 2MB.
	MaxBodyBytes int64

	// MaxTextBytes caps the extracted text returned to the model.
	// Default: 64KB.
	MaxTextBytes int

	// UserAgent overrides the request User-Agent.
	UserAgent string

	// AllowPrivateHosts disables the SSRF guard; tests use it to hit
	// httptest servers on loopback.
	AllowPrivateHosts bool
}

const (
	defaultFetchTimeout = 15 * time.Second
	defaultMaxBody      = 2 << 20
	defaultMaxText      = 64 << 10
	defaultUserAgent    = "agentcore/1.0 (+local agent runtime)"
)

// WebFetchTool fetches one URL and returns its text content, optionally
// narrowed to the elements matching a simple selector (tag name, #id,
// or .class).
type WebFetchTool struct {
	config FetchConfig
	client *http.Client
}

// NewWebFetchTool creates the fetch tool, filling zero config fields
// with defaults.
func NewWebFetchTool(config *FetchConfig) *WebFetchTool {
	cfg := FetchConfig{}
	if config != nil {
		cfg = *config
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultFetchTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBody
	}
	if cfg.MaxTextBytes <= 0 {
		cfg.MaxTextBytes = defaultMaxText
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	return &WebFetchTool{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }

func (t *WebFetchTool) Description() string {
	return "Fetch a URL and return its readable text, optionally narrowed to a selector (tag, #id, or .class)."
}

func (t *WebFetchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "The URL to fetch (http or https)."},
			"selector": {"type": "string", "description": "Optional element selector: a tag name (article), #id, or .class."}
		},
		"required": ["url"]
	}`)
}

type fetchParams struct {
	URL      string `json:"url"`
	Selector string `json:"selector"`
}

// Execute fetches the page and returns its text. Invalid input, blocked
// hosts, and HTTP failures are tool errors the model can react to.
func (t *WebFetchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p fetchParams
	if err := json.Unmarshal(params, &p); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	p.URL = strings.TrimSpace(p.URL)
	if p.URL == "" {
		return toolError("url is required"), nil
	}
	if !strings.HasPrefix(p.URL, "http://") && !strings.HasPrefix(p.URL, "https://") {
		return toolError("url must be http or https"), nil
	}
	if !t.config.AllowPrivateHosts {
		if err := rejectPrivateHost(p.URL); err != nil {
			return toolError(err.Error()), nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return toolError(fmt.Sprintf("build request: %v", err)), nil
	}
	req.Header.Set("User-Agent", t.config.UserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return toolError(fmt.Sprintf("fetch failed: %v", err)), nil
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return toolError(fmt.Sprintf("fetch returned status %d", resp.StatusCode)), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.config.MaxBodyBytes))
	if err != nil {
		return toolError(fmt.Sprintf("read body: %v", err)), nil
	}

	contentType := resp.Header.Get("Content-Type")
	var text string
	if strings.Contains(contentType, "html") || looksLikeHTML(body) {
		text, err = extractText(body, p.Selector)
		if err != nil {
			return toolError(fmt.Sprintf("parse html: %v", err)), nil
		}
	} else {
		text = string(body)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return toolError("no content matched"), nil
	}
	if len(text) > t.config.MaxTextBytes {
		text = text[:t.config.MaxTextBytes] + "\n[truncated]"
	}
	return &agent.ToolResult{Content: text}, nil
}

func looksLikeHTML(body []byte) bool {
	head := strings.ToLower(string(body[:min(len(body), 512)]))
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}

// extractText parses the document and renders the text of the elements
// matching selector; an empty selector renders the whole body with
// script/style content dropped.
func extractText(body []byte, selector string) (string, error) {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}

	match := matcherFor(strings.TrimSpace(selector))
	var out strings.Builder
	var walk func(n *html.Node, inMatch bool)
	walk = func(n *html.Node, inMatch bool) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style" || n.Data == "noscript") {
			return
		}
		matched := inMatch || match == nil || (n.Type == html.ElementNode && match(n))
		if n.Type == html.TextNode && matched {
			if trimmed := strings.TrimSpace(n.Data); trimmed != "" {
				out.WriteString(trimmed)
				out.WriteString("\n")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, matched)
		}
	}
	walk(doc, false)
	return out.String(), nil
}

// matcherFor builds the element predicate for a selector of the three
// supported shapes. Empty selectors match everything (nil predicate).
func matcherFor(selector string) func(*html.Node) bool {
	switch {
	case selector == "":
		return nil
	case strings.HasPrefix(selector, "#"):
		id := selector[1:]
		return func(n *html.Node) bool { return attrValue(n, "id") == id }
	case strings.HasPrefix(selector, "."):
		class := selector[1:]
		return func(n *html.Node) bool {
			for _, c := range strings.Fields(attrValue(n, "class")) {
				if c == class {
					return true
				}
			}
			return false
		}
	default:
		tag := strings.ToLower(selector)
		return func(n *html.Node) bool { return n.Data == tag }
	}
}

func attrValue(n *html.Node, name string) string {
	for _, attr := range n.Attr {
		if attr.Key == name {
			return attr.Val
		}
	}
	return ""
}

// rejectPrivateHost refuses URLs that resolve to loopback, private, or
// link-local addresses, so a model-supplied URL cannot probe the local
// network.
func rejectPrivateHost(rawURL string) error {
	host := rawURL
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("resolve %q: %v", host, err)
	}
	for _, ip := range ips {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return fmt.Errorf("refusing to fetch private or local address %s", ip)
		}
	}
	return nil
}

func toolError(message string) *agent.ToolResult {
	return &agent.ToolResult{Content: message, IsError: true}
}
