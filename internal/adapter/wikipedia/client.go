package wikipedia

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"wikichat/internal/domain"
	"wikichat/internal/infra/config"
	"wikichat/internal/infra/tracer"
)

const (
	defaultUserAgent = "wikichat/1.0 (https://github.com/wikichat/wikichat)"
	maxResponseBody  = 20 * 1024 * 1024
)

// Client fetches plain-text page extracts from one Wikipedia language edition.
type Client struct {
	endpoint  string
	userAgent string
	http      *http.Client
	logger    *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithEndpoint overrides the api.php URL. Used by tests.
func WithEndpoint(endpoint string) ClientOption {
	return func(c *Client) { c.endpoint = endpoint }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// NewClient creates a client for cfg.Language (default "en").
func NewClient(cfg config.CorpusConfig, logger *slog.Logger, opts ...ClientOption) *Client {
	lang := cfg.Language
	if lang == "" {
		lang = "en"
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		endpoint:  fmt.Sprintf("https://%s.wikipedia.org/w/api.php", lang),
		userAgent: ua,
		http:      &http.Client{Timeout: timeout},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// queryResponse is the formatversion=2 shape of action=query.
type queryResponse struct {
	Query struct {
		Pages []struct {
			PageID  int    `json:"pageid"`
			Title   string `json:"title"`
			Missing bool   `json:"missing"`
			Invalid bool   `json:"invalid"`
			Extract string `json:"extract"`
			FullURL string `json:"fullurl"`
		} `json:"pages"`
	} `json:"query"`
	Error *struct {
		Code string `json:"code"`
		Info string `json:"info"`
	} `json:"error"`
}

// GetPage fetches the plain-text extract of a single page, following
// redirects. Missing or invalid titles return ErrPageNotFound.
func (c *Client) GetPage(ctx context.Context, title string) (*domain.Document, error) {
	const op = "wikipedia.GetPage"

	ctx, span := tracer.StartSpan(ctx, "wikipedia.fetch",
		trace.WithAttributes(tracer.StringAttr("wikipedia.title", title)),
	)
	defer span.End()

	q := url.Values{}
	q.Set("action", "query")
	q.Set("format", "json")
	q.Set("formatversion", "2")
	q.Set("prop", "extracts|info")
	q.Set("explaintext", "1")
	q.Set("inprop", "url")
	q.Set("redirects", "1")
	q.Set("titles", title)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		tracer.RecordError(span, err)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", op, ctx.Err())
		}
		return nil, domain.NewSubSystemError("wikipedia", op, domain.ErrProviderError, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("%s: read response: %w", op, err)
	}

	if resp.StatusCode != http.StatusOK {
		err := statusError(op, resp.StatusCode, body)
		tracer.RecordError(span, err)
		return nil, err
	}

	var qr queryResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		tracer.RecordError(span, err)
		return nil, domain.NewSubSystemError("wikipedia", op, domain.ErrProviderError, "decode response: "+err.Error())
	}
	if qr.Error != nil {
		err := domain.NewSubSystemError("wikipedia", op, domain.ErrProviderError, qr.Error.Code+": "+qr.Error.Info)
		tracer.RecordError(span, err)
		return nil, err
	}

	for _, p := range qr.Query.Pages {
		if p.Missing || p.Invalid {
			continue
		}
		doc := &domain.Document{
			Title:     p.Title,
			URL:       p.FullURL,
			Content:   strings.TrimSpace(p.Extract),
			FetchedAt: time.Now().UTC(),
		}
		span.SetAttributes(tracer.IntAttr("wikipedia.chars", len(doc.Content)))
		tracer.SetOK(span)
		c.logger.Debug("wikipedia page fetched", "title", doc.Title, "chars", len(doc.Content))
		return doc, nil
	}

	return nil, domain.NewSubSystemError("wikipedia", op, domain.ErrPageNotFound, title)
}

func statusError(op string, status int, body []byte) error {
	detail := fmt.Sprintf("status %d: %s", status, truncate(string(body), 200))
	switch {
	case status == http.StatusTooManyRequests:
		return domain.NewSubSystemError("wikipedia", op, domain.ErrRateLimit, detail)
	case status == http.StatusNotFound:
		return domain.NewSubSystemError("wikipedia", op, domain.ErrPageNotFound, detail)
	default:
		return domain.NewSubSystemError("wikipedia", op, domain.ErrProviderError, detail)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
