// internal/clients/books_client.go
package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

var (
	// ErrVolumeNotFound is returned when the catalog has no such volume.
	ErrVolumeNotFound = errors.New("volume not found")
	// ErrCatalogUnavailable wraps transport failures, 5xx responses and an open breaker.
	ErrCatalogUnavailable = errors.New("catalog unavailable")
)

// Volume is the subset of a Google Books volume the library keeps.
type Volume struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Authors       []string `json:"authors,omitempty"`
	Publisher     string   `json:"publisher,omitempty"`
	PublishedDate string   `json:"published_date,omitempty"`
	ISBN13        string   `json:"isbn_13,omitempty"`
	ISBN10        string   `json:"isbn_10,omitempty"`
	PageCount     int      `json:"page_count,omitempty"`
	Categories    []string `json:"categories,omitempty"`
	Thumbnail     string   `json:"thumbnail,omitempty"`
}

// Author joins the authors for display.
func (v Volume) Author() string {
	return strings.Join(v.Authors, ", ")
}

// ISBN prefers the 13-digit identifier.
func (v Volume) ISBN() string {
	if v.ISBN13 != "" {
		return v.ISBN13
	}
	return v.ISBN10
}

type volumeResponse struct {
	ID         string `json:"id"`
	VolumeInfo struct {
		Title               string   `json:"title"`
		Authors             []string `json:"authors"`
		Publisher           string   `json:"publisher"`
		PublishedDate       string   `json:"publishedDate"`
		PageCount           int      `json:"pageCount"`
		Categories          []string `json:"categories"`
		IndustryIdentifiers []struct {
			Type       string `json:"type"`
			Identifier string `json:"identifier"`
		} `json:"industryIdentifiers"`
		ImageLinks struct {
			Thumbnail string `json:"thumbnail"`
		} `json:"imageLinks"`
	} `json:"volumeInfo"`
}

func (r volumeResponse) volume() Volume {
	info := r.VolumeInfo
	v := Volume{
		ID:            r.ID,
		Title:         info.Title,
		Authors:       info.Authors,
		Publisher:     info.Publisher,
		PublishedDate: info.PublishedDate,
		PageCount:     info.PageCount,
		Categories:    info.Categories,
		Thumbnail:     info.ImageLinks.Thumbnail,
	}
	for _, id := range info.IndustryIdentifiers {
		switch id.Type {
		case "ISBN_13":
			v.ISBN13 = id.Identifier
		case "ISBN_10":
			v.ISBN10 = id.Identifier
		}
	}
	if v.Title == "" {
		v.Title = "Untitled"
	}
	return v
}

// BooksClient reads volume metadata from a Google Books compatible API.
type BooksClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	tracer  trace.Tracer
}

// BooksClientConfig configures a BooksClient. Zero values take defaults.
type BooksClientConfig struct {
	BaseURL string
	APIKey  string
	RPS     float64
	Timeout time.Duration
}

func NewBooksClient(cfg BooksClientConfig) *BooksClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.googleapis.com/books/v1"
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	burst := int(cfg.RPS)
	if burst < 1 {
		burst = 1
	}
	return &BooksClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), burst),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "books-api",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrVolumeNotFound)
			},
		}),
		tracer: otel.Tracer("libranexus/clients"),
	}
}

// GetVolume fetches one volume by its catalog id.
func (c *BooksClient) GetVolume(ctx context.Context, volumeID string) (Volume, error) {
	ctx, span := c.tracer.Start(ctx, "books.get_volume",
		trace.WithAttributes(attribute.String("volume.id", volumeID)))
	defer span.End()

	var resp volumeResponse
	if err := c.get(ctx, "/volumes/"+url.PathEscape(volumeID), nil, &resp); err != nil {
		span.RecordError(err)
		return Volume{}, err
	}
	if resp.ID == "" {
		resp.ID = volumeID
	}
	return resp.volume(), nil
}

// Search runs a free-text volume search.
func (c *BooksClient) Search(ctx context.Context, query string, maxResults int) ([]Volume, error) {
	ctx, span := c.tracer.Start(ctx, "books.search",
		trace.WithAttributes(attribute.String("query", query)))
	defer span.End()

	if maxResults <= 0 || maxResults > 40 {
		maxResults = 10
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("maxResults", strconv.Itoa(maxResults))

	var resp struct {
		Items []volumeResponse `json:"items"`
	}
	if err := c.get(ctx, "/volumes", params, &resp); err != nil {
		span.RecordError(err)
		return nil, err
	}
	out := make([]Volume, 0, len(resp.Items))
	for _, item := range resp.Items {
		out = append(out, item.volume())
	}
	return out, nil
}

func (c *BooksClient) get(ctx context.Context, path string, params url.Values, dst any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	if params == nil {
		params = url.Values{}
	}
	if c.apiKey != "" {
		params.Set("key", c.apiKey)
	}
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, ErrVolumeNotFound
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return nil, fmt.Errorf("%w: status %d", ErrCatalogUnavailable, resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			return nil, fmt.Errorf("decode catalog response: %w", err)
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	return err
}
