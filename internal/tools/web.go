package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sentinel-chat-go/pkg/llm"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

const (
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	maxPageBytes     = 2 << 20
	maxPageChars     = 5000
	maxSearchResults = 5
)

// SearchResult 是一条网页搜索结果。
type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

type searchArgs struct {
	Query string `json:"query"`
}

type searchTool struct {
	client    *http.Client
	searchURL string
}

// NewSearchTool 基于 DuckDuckGo HTML 页面搜索，searchURL 为空时使用公网地址。
func NewSearchTool(client *http.Client, searchURL string) Tool {
	if searchURL == "" {
		searchURL = "https://html.duckduckgo.com/html/"
	}
	return &searchTool{client: client, searchURL: searchURL}
}

func (t *searchTool) Name() string { return SearchWeb }

func (t *searchTool) Definition() llm.ToolDefinition {
	return definition(SearchWeb,
		"Searches the internet for current information. Use this when you need facts, news, or knowledge not in your training data.",
		`{"type":"object","properties":{"query":{"type":"string","description":"The search query."}},"required":["query"]}`)
}

func (t *searchTool) Execute(ctx context.Context, raw json.RawMessage) (string, error) {
	var args searchArgs
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if strings.TrimSpace(args.Query) == "" {
		return "", errors.New("query is required")
	}

	u, err := url.Parse(t.searchURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("q", args.Query)
	u.RawQuery = q.Encode()

	body, err := fetch(ctx, t.client, u.String())
	if err != nil {
		return "", fmt.Errorf("search failed: %w", err)
	}
	results, err := parseSearchResults(body, maxSearchResults)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return `{"info":"No search results found."}`, nil
	}
	out, err := json.Marshal(results)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// parseSearchResults 解析 DuckDuckGo HTML 结果页。
func parseSearchResults(body []byte, limit int) ([]SearchResult, error) {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var results []SearchResult
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(results) >= limit {
			return
		}
		if n.Type == html.ElementNode && hasClass(n, "result") {
			if r := extractResult(n); r.Title != "" && r.URL != "" {
				results = append(results, r)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return results, nil
}

func extractResult(n *html.Node) SearchResult {
	var r SearchResult
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.Data == "a" && hasClass(n, "result__a") && r.URL == "":
				r.URL = unwrapRedirect(attr(n, "href"))
				r.Title = textContent(n)
			case hasClass(n, "result__snippet") && r.Description == "":
				r.Description = textContent(n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return r
}

// unwrapRedirect 还原 DuckDuckGo 的跳转链接。
func unwrapRedirect(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" && strings.HasSuffix(u.Host, "duckduckgo.com") {
		return target
	}
	return href
}

type readPageArgs struct {
	URL string `json:"url"`
}

type readPageTool struct {
	client *http.Client
}

func NewReadPageTool(client *http.Client) Tool {
	return &readPageTool{client: client}
}

func (t *readPageTool) Name() string { return ReadWebPage }

func (t *readPageTool) Definition() llm.ToolDefinition {
	return definition(ReadWebPage,
		"Visits a specific URL and reads its content. Use this to dive deeper into search results.",
		`{"type":"object","properties":{"url":{"type":"string","description":"The URL to visit."}},"required":["url"]}`)
}

func (t *readPageTool) Execute(ctx context.Context, raw json.RawMessage) (string, error) {
	var args readPageArgs
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	u, err := url.Parse(strings.TrimSpace(args.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", errors.New("url must be an absolute http(s) URL")
	}

	body, err := fetch(ctx, t.client, u.String())
	if err != nil {
		return "", fmt.Errorf("failed to read page: %w", err)
	}
	text, err := pageText(body)
	if err != nil {
		return "", err
	}
	return truncate(text, maxPageChars), nil
}

var skippedElements = map[string]bool{
	"script": true, "style": true, "nav": true, "footer": true, "noscript": true, "head": true,
}

// pageText 提取正文文本并压缩空白。
func pageText(body []byte) (string, error) {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skippedElements[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.Join(strings.Fields(sb.String()), " "), nil
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "..."
}

func fetch(ctx context.Context, client *http.Client, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
}

func hasClass(n *html.Node, class string) bool {
	for _, f := range strings.Fields(attr(n, "class")) {
		if f == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}
