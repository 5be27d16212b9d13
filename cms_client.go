package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNewsletterNotFound is returned when no newsletter matches a slug
var ErrNewsletterNotFound = errors.New("newsletter not found")

// CMSClient wraps the Strapi content API. Read-only: the site only ever
// lists newsletters and fetches one by slug.
type CMSClient struct {
	baseURL    string
	httpClient *http.Client
}

// Newsletter is one published newsletter/blog entry
type Newsletter struct {
	ID          int       `json:"id"`
	Title       string    `json:"title"`
	Slug        string    `json:"slug"`
	Excerpt     string    `json:"excerpt"`
	Content     string    `json:"content"`
	PublishedAt time.Time `json:"publishedAt"`
}

type newsletterListResponse struct {
	Data []Newsletter `json:"data"`
}

// NewCMSClient creates a new Strapi content client
func NewCMSClient(baseURL string) *CMSClient {
	return &CMSClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// ListNewsletters fetches all newsletters with their relations populated
func (c *CMSClient) ListNewsletters(ctx context.Context) ([]Newsletter, error) {
	listURL := fmt.Sprintf("%s/api/newsletters?populate=*", c.baseURL)

	var resp newsletterListResponse
	if err := c.getJSON(ctx, listURL, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// NewsletterBySlug fetches the newsletter matching a slug, or
// ErrNewsletterNotFound when there is none.
func (c *CMSClient) NewsletterBySlug(ctx context.Context, slug string) (*Newsletter, error) {
	detailURL := fmt.Sprintf("%s/api/newsletters?filters[slug][$eq]=%s&populate=*",
		c.baseURL, url.QueryEscape(slug))

	var resp newsletterListResponse
	if err := c.getJSON(ctx, detailURL, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, ErrNewsletterNotFound
	}
	return &resp.Data[0], nil
}

// getJSON performs a GET and decodes the JSON response body into out
func (c *CMSClient) getJSON(ctx context.Context, requestURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", requestURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create CMS request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("CMS request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("CMS returned %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode CMS response: %w", err)
	}
	return nil
}
