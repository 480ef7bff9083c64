// Package websearch provides the web_search tool backed by the Tavily
// search API. The tool registers only when a Tavily API key is configured.
package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/miniagent/miniagent/internal/tools"
)

const (
	defaultBaseURL    = "https://api.tavily.com"
	defaultMaxResults = 5
	maxMaxResults     = 10
)

// Description is injected verbatim into the system prompt.
const Description = `Search the web for current information.

Use this tool when the question concerns recent events, live data (prices,
weather, news), or facts you are not confident about. Do not use it for
general knowledge you already have, or to browse a specific URL you were
given. Results include a title, URL, and content snippet per hit.`

// Client calls the Tavily search endpoint.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a search client. baseURL empty selects the public API.
func NewClient(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type searchRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type searchResponse struct {
	Answer  string `json:"answer,omitempty"`
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Search runs one query and formats the hits as a compact text block.
func (c *Client) Search(ctx context.Context, query string, maxResults int) (string, error) {
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	if maxResults > maxMaxResults {
		maxResults = maxMaxResults
	}

	body, err := json.Marshal(searchRequest{
		APIKey:     c.apiKey,
		Query:      query,
		MaxResults: maxResults,
	})
	if err != nil {
		return "", fmt.Errorf("encode search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("search API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode search response: %w", err)
	}
	return format(query, &parsed), nil
}

func format(query string, resp *searchResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Search results for %q:\n", query)
	if resp.Answer != "" {
		fmt.Fprintf(&b, "Answer: %s\n", resp.Answer)
	}
	if len(resp.Results) == 0 {
		b.WriteString("No results.\n")
		return b.String()
	}
	for i, r := range resp.Results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Content != "" {
			fmt.Fprintf(&b, "   %s\n", r.Content)
		}
	}
	return b.String()
}

// NewSpec builds the web_search tool spec around a client.
func NewSpec(client *Client) *tools.Spec {
	return &tools.Spec{
		Name:        "web_search",
		Description: Description,
		Category:    "search",
		ArgumentsSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {
					"type": "string",
					"description": "The search query"
				},
				"max_results": {
					"type": "integer",
					"minimum": 1,
					"maximum": 10,
					"description": "Number of results to return (default 5)"
				}
			},
			"required": ["query"]
		}`),
		Timeout: 30 * time.Second,
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in struct {
				Query      string `json:"query"`
				MaxResults int    `json:"max_results"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return "", err
			}
			return client.Search(ctx, in.Query, in.MaxResults)
		},
	}
}
