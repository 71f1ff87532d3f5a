// Package news queries the news-search provider and condenses results into a digest
// the agent can read.
package news

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"quant-agent-go/internal/upstream"
)

const snippetLength = 150

// Article is a single search hit.
type Article struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Searcher is the news-search collaborator.
type Searcher struct {
	client     *upstream.Client
	apiKey     string
	days       int
	maxResults int
	logger     *zap.Logger
}

// NewSearcher creates a news searcher restricted to the last `days` days.
func NewSearcher(client *upstream.Client, apiKey string, days, maxResults int, logger *zap.Logger) *Searcher {
	return &Searcher{
		client:     client,
		apiKey:     apiKey,
		days:       days,
		maxResults: maxResults,
		logger:     logger.Named("news"),
	}
}

type searchRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	Topic      string `json:"topic"`
	Days       int    `json:"days"`
	MaxResults int    `json:"max_results"`
}

type searchResponse struct {
	Results []Article `json:"results"`
}

// Search runs a single news query.
func (s *Searcher) Search(ctx context.Context, query string) ([]Article, error) {
	var body searchResponse
	req := s.client.R(ctx).
		SetHeader("Content-Type", "application/json").
		SetAuthToken(s.apiKey).
		SetBody(searchRequest{
			APIKey:     s.apiKey,
			Query:      query,
			Topic:      "news",
			Days:       s.days,
			MaxResults: s.maxResults,
		}).
		SetResult(&body)
	if _, err := s.client.Post(ctx, "/search", req); err != nil {
		return nil, fmt.Errorf("news search %q: %w", query, err)
	}
	return body.Results, nil
}

// Queries returns the searches used to build a digest for the given topic.
func Queries(topic string) []string {
	return []string{
		strings.TrimSpace(topic) + " crypto price action today",
		"Bitcoin ETF flows and institutional sentiment today",
		"top crypto regulation and security news today",
	}
}

// Digest searches from several angles and renders one markdown line per unique URL.
// Individual query failures are skipped; only when every query fails is the error reported.
func (s *Searcher) Digest(ctx context.Context, topic string) string {
	var (
		lines []string
		errs  []error
	)
	seen := make(map[string]bool)
	for _, q := range Queries(topic) {
		articles, err := s.Search(ctx, q)
		if err != nil {
			s.logger.Warn("News query failed", zap.String("query", q), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		for _, a := range articles {
			if seen[a.URL] {
				continue
			}
			seen[a.URL] = true
			lines = append(lines, formatArticle(a))
		}
	}

	if len(errs) == len(Queries(topic)) {
		return "News error: " + errors.Join(errs...).Error()
	}
	if len(lines) == 0 {
		return "No specific news found."
	}
	return strings.Join(lines, "\n")
}

func formatArticle(a Article) string {
	title := a.Title
	if title == "" {
		title = "No Title"
	}
	url := a.URL
	if url == "" {
		url = "#"
	}
	return fmt.Sprintf("- [%s](%s): %s...", title, url, truncate(a.Content, snippetLength))
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
