// Package pnw provides the Politics & War GraphQL API client.
//
// The API takes GET requests with the query in the URL and authenticates via
// an api_key query parameter. Rate limiting is handled via a token bucket
// limiter shared by all callers; transient failures are retried at the
// transport level before being surfaced as classified APIErrors.
package pnw

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// listingFields is the full snapshot shape used by collection queries.
const listingFields = `id nation_name alliance_id alliance{name} score num_cities espionage_available beige_turns vacation_mode_turns last_active`

// statusFields is the narrow shape polled on every scheduled check.
const statusFields = `id nation_name alliance_id espionage_available beige_turns vacation_mode_turns last_active`

// Client is the shared HTTP client for the Politics & War API.
type Client struct {
	http    *retryablehttp.Client
	baseURL string
	apiKey  string
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates a rate-limited P&W API client. requestsPerMinute is the
// shared budget for every caller; Wait blocks rather than fails when the
// bucket is empty.
func NewClient(baseURL, apiKey string, requestsPerMinute int, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 1 * time.Second
	rc.RetryWaitMax = 10 * time.Second
	rc.HTTPClient.Timeout = timeout
	rc.Logger = nil
	// Hand back the final response once retries are exhausted instead of a
	// wrapped error, so 429 and 5xx statuses reach the classification
	// switch in query.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	rps := float64(requestsPerMinute) / 60.0
	return &Client{
		http:    rc,
		baseURL: baseURL,
		apiKey:  apiKey,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  logger,
	}
}

// FetchNationStatus polls the availability snapshot for a single nation.
// Returns an APIError with kind not_found when the nation does not exist.
func (c *Client) FetchNationStatus(ctx context.Context, nationID int) (NationSnapshot, error) {
	query := fmt.Sprintf(`{nations(id:[%d]){data{%s}}}`, nationID, statusFields)

	result, err := c.query(ctx, query)
	if err != nil {
		return NationSnapshot{}, err
	}

	data := result.Get("data.nations.data")
	if !data.Exists() || len(data.Array()) == 0 {
		return NationSnapshot{}, &APIError{Kind: ErrKindNotFound, Message: fmt.Sprintf("nation %d not found", nationID)}
	}

	snap, err := parseNationSnapshot(data.Array()[0])
	if err != nil {
		return NationSnapshot{}, &APIError{Kind: ErrKindTransient, Message: err.Error()}
	}
	return snap, nil
}

// FetchNationPage fetches one page of the full nation listing. Returns the
// validated snapshots and whether more pages remain. Malformed records are
// logged and skipped rather than failing the page.
func (c *Client) FetchNationPage(ctx context.Context, page, pageSize int) ([]NationSnapshot, bool, error) {
	query := fmt.Sprintf(`{nations(first: %d, page: %d){paginatorInfo{hasMorePages currentPage}data{%s}}}`,
		pageSize, page, listingFields)

	result, err := c.query(ctx, query)
	if err != nil {
		return nil, false, err
	}

	nations := result.Get("data.nations")
	if !nations.Exists() {
		return nil, false, &APIError{Kind: ErrKindTransient, Message: "listing response missing nations data"}
	}

	snaps := c.parseAll(nations.Get("data"))
	hasMore := nations.Get("paginatorInfo.hasMorePages").Bool()
	return snaps, hasMore, nil
}

// FetchNationsAfter fetches nations with ids greater than minID, used by the
// new-nation sweep.
func (c *Client) FetchNationsAfter(ctx context.Context, minID, limit int) ([]NationSnapshot, error) {
	query := fmt.Sprintf(`{nations(id_gt: %d, first: %d){data{%s}}}`, minID, limit, listingFields)

	result, err := c.query(ctx, query)
	if err != nil {
		return nil, err
	}
	return c.parseAll(result.Get("data.nations.data")), nil
}

func (c *Client) parseAll(data gjson.Result) []NationSnapshot {
	var snaps []NationSnapshot
	for _, n := range data.Array() {
		snap, err := parseNationSnapshot(n)
		if err != nil {
			c.logger.Warn("Skipping malformed nation snapshot", "error", err)
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps
}

// query performs a rate-limited GET against the GraphQL endpoint and
// classifies failures into the APIError taxonomy.
func (c *Client) query(ctx context.Context, query string) (gjson.Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return gjson.Result{}, fmt.Errorf("rate limit wait: %w", err)
	}

	u := fmt.Sprintf("%s?api_key=%s&query=%s", c.baseURL, url.QueryEscape(c.apiKey), url.QueryEscape(query))

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return gjson.Result{}, ctx.Err()
		}
		return gjson.Result{}, &APIError{Kind: ErrKindTransient, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, &APIError{Kind: ErrKindTransient, Status: resp.StatusCode, Message: err.Error()}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return gjson.Result{}, &APIError{Kind: ErrKindRateLimited, Status: resp.StatusCode, Message: "request budget exhausted"}
	case resp.StatusCode != http.StatusOK:
		return gjson.Result{}, &APIError{Kind: ErrKindTransient, Status: resp.StatusCode, Message: truncate(body, 200)}
	}

	parsed := gjson.ParseBytes(body)
	if errs := parsed.Get("errors"); errs.Exists() && len(errs.Array()) > 0 {
		msg := errs.Array()[0].Get("message").String()
		kind := ErrKindTransient
		if strings.Contains(strings.ToLower(msg), "rate limit") {
			kind = ErrKindRateLimited
		}
		return gjson.Result{}, &APIError{Kind: kind, Status: resp.StatusCode, Message: msg}
	}

	return parsed, nil
}

// truncate returns a truncated string representation for error messages.
func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
