// Package tableau implements the authenticated client for the remote
// analytics server (Tableau REST API). It owns the per-site token cache,
// deduplicates concurrent sign-ins, and fans out view fetches in bounded
// parallel batches with partial-failure semantics: a failed view becomes a
// gap in the result map, never an error for the whole batch.
package tableau

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	apiVersion     = "3.21"
	requestTimeout = 60 * time.Second
	maxAttempts    = 3

	// DefaultConcurrency bounds parallel view fetches within one job.
	DefaultConcurrency = 5
)

// ViewRequest names one remote view to fetch, with its filter query
// parameters already bound by the transformer.
type ViewRequest struct {
	ViewKey      string
	ViewName     string
	FilterParams map[string]string
}

// Client talks to the Tableau REST API. Safe for concurrent use; one
// instance is shared by all worker goroutines so the token cache is
// process-wide.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger

	cache *tokenCache
	group singleflight.Group

	now           func() time.Time
	retryInterval time.Duration
}

// NewClient creates a Client. Certificate validation is enforced only when
// production is true; staging Tableau instances commonly run self-signed.
func NewClient(baseURL string, production bool, logger *zap.Logger) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !production {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   requestTimeout,
			Transport: transport,
		},
		logger:        logger.Named("tableau"),
		cache:         newTokenCache(),
		now:           time.Now,
		retryInterval: 500 * time.Millisecond,
	}
}

// signinRequest / signinResponse mirror the REST sign-in payloads.
type signinRequest struct {
	Credentials struct {
		PersonalAccessTokenName   string `json:"personalAccessTokenName"`
		PersonalAccessTokenSecret string `json:"personalAccessTokenSecret"`
		Site                      struct {
			ContentURL string `json:"contentUrl"`
		} `json:"site"`
	} `json:"credentials"`
}

type signinResponse struct {
	Credentials struct {
		Token string `json:"token"`
		Site  struct {
			ID string `json:"id"`
		} `json:"site"`
	} `json:"credentials"`
}

// Authenticate signs in to a site with its resolved PAT and caches the
// session on success.
func (c *Client) Authenticate(ctx context.Context, site string) (AuthEntry, error) {
	creds, err := resolveCredentials(site)
	if err != nil {
		return AuthEntry{}, err
	}

	var payload signinRequest
	payload.Credentials.PersonalAccessTokenName = creds.name
	payload.Credentials.PersonalAccessTokenSecret = creds.secret
	payload.Credentials.Site.ContentURL = site

	body, err := json.Marshal(payload)
	if err != nil {
		return AuthEntry{}, fmt.Errorf("%w: site %s: %v", ErrAuthFailed, site, err)
	}

	var resp signinResponse
	err = c.doJSON(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/api/"+apiVersion+"/auth/signin", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, &resp)
	if err != nil {
		return AuthEntry{}, fmt.Errorf("%w: site %s: %v", ErrAuthFailed, site, err)
	}
	if resp.Credentials.Token == "" || resp.Credentials.Site.ID == "" {
		return AuthEntry{}, fmt.Errorf("%w: site %s: sign-in response missing token or site id", ErrAuthFailed, site)
	}

	entry := AuthEntry{
		Token:     resp.Credentials.Token,
		SiteID:    resp.Credentials.Site.ID,
		ExpiresAt: c.now().Add(tokenLifetime),
	}
	c.cache.put(site, entry)
	c.logger.Info("authenticated to site", zap.String("site", site))
	return entry, nil
}

// GetValidToken returns the cached session for a site when it is not
// within the refresh threshold of expiry; otherwise it refreshes it.
// Concurrent callers for the same site are collapsed into a single
// sign-in request — later callers wait on the first result.
func (c *Client) GetValidToken(ctx context.Context, site string) (AuthEntry, error) {
	if e, ok := c.cache.get(site); ok && e.fresh(c.now()) {
		return e, nil
	}

	v, err, _ := c.group.Do(site, func() (any, error) {
		// Re-check under the flight: another caller may have refreshed
		// between our cache miss and joining the group.
		if e, ok := c.cache.get(site); ok && e.fresh(c.now()) {
			return e, nil
		}
		return c.Authenticate(ctx, site)
	})
	if err != nil {
		return AuthEntry{}, err
	}
	return v.(AuthEntry), nil
}

// workbook listing payloads.
type workbooksResponse struct {
	Workbooks struct {
		Workbook []struct {
			ID         string `json:"id"`
			ContentURL string `json:"contentUrl"`
		} `json:"workbook"`
	} `json:"workbooks"`
}

type viewsResponse struct {
	Views struct {
		View []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"view"`
	} `json:"views"`
}

// lookupWorkbook resolves a workbook ID by its contentUrl.
func (c *Client) lookupWorkbook(ctx context.Context, entry AuthEntry, workbookName string) (string, error) {
	var resp workbooksResponse
	err := c.doJSON(ctx, func() (*http.Request, error) {
		u := fmt.Sprintf("%s/api/%s/sites/%s/workbooks?filter=contentUrl:eq:%s",
			c.baseURL, apiVersion, entry.SiteID, url.QueryEscape(workbookName))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Tableau-Auth", entry.Token)
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrWorkbookNotFound, workbookName, err)
	}
	if len(resp.Workbooks.Workbook) == 0 {
		return "", fmt.Errorf("%w: %s", ErrWorkbookNotFound, workbookName)
	}
	return resp.Workbooks.Workbook[0].ID, nil
}

// listViews maps view name to view ID for a workbook.
func (c *Client) listViews(ctx context.Context, entry AuthEntry, workbookID string) (map[string]string, error) {
	var resp viewsResponse
	err := c.doJSON(ctx, func() (*http.Request, error) {
		u := fmt.Sprintf("%s/api/%s/sites/%s/workbooks/%s/views",
			c.baseURL, apiVersion, entry.SiteID, workbookID)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Tableau-Auth", entry.Token)
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("%w: workbook %s: %v", ErrViewListingFailed, workbookID, err)
	}

	ids := make(map[string]string, len(resp.Views.View))
	for _, v := range resp.Views.View {
		ids[v.Name] = v.ID
	}
	return ids, nil
}

// fetchViewData downloads one view as CSV with maxAge=1 to bypass the
// server-side cache, appending the bound filter parameters.
func (c *Client) fetchViewData(ctx context.Context, entry AuthEntry, viewID string, filterParams map[string]string) (string, error) {
	q := url.Values{}
	q.Set("maxAge", "1")
	for k, v := range filterParams {
		q.Set(k, v)
	}

	var csv string
	err := c.doRaw(ctx, func() (*http.Request, error) {
		u := fmt.Sprintf("%s/api/%s/sites/%s/views/%s/data?%s",
			c.baseURL, apiVersion, entry.SiteID, viewID, q.Encode())
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Tableau-Auth", entry.Token)
		return req, nil
	}, &csv)
	return csv, err
}

// FetchViewsInParallel fetches every requested view of a workbook. The
// input is processed in sequential batches of size concurrency, bounding
// in-flight requests. Failed views are skipped and logged; the returned
// map's keys are a subset of the request view keys. An empty map with a
// nil error means every view failed — the caller treats that as fatal.
func (c *Client) FetchViewsInParallel(ctx context.Context, requests []ViewRequest, workbookName, site string, concurrency int) (map[string]string, error) {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	entry, err := c.GetValidToken(ctx, site)
	if err != nil {
		return nil, err
	}

	workbookID, err := c.lookupWorkbook(ctx, entry, workbookName)
	if err != nil {
		return nil, err
	}

	viewIDs, err := c.listViews(ctx, entry, workbookID)
	if err != nil {
		return nil, err
	}

	results := make(map[string]string, len(requests))
	var mu sync.Mutex

	for start := 0; start < len(requests); start += concurrency {
		end := start + concurrency
		if end > len(requests) {
			end = len(requests)
		}
		batch := requests[start:end]

		var wg sync.WaitGroup
		for _, req := range batch {
			wg.Add(1)
			go func(req ViewRequest) {
				defer wg.Done()

				viewID, ok := viewIDs[req.ViewName]
				if !ok {
					c.logger.Warn("view not present in workbook, skipping",
						zap.String("view_key", req.ViewKey),
						zap.String("view_name", req.ViewName),
						zap.String("workbook", workbookName),
					)
					return
				}

				csv, err := c.fetchViewData(ctx, entry, viewID, req.FilterParams)
				if err != nil {
					c.logger.Warn("view fetch failed, skipping",
						zap.String("view_key", req.ViewKey),
						zap.String("view_name", req.ViewName),
						zap.Error(fmt.Errorf("%w: %s: %v", ErrViewFetchFailed, req.ViewKey, err)),
					)
					return
				}

				mu.Lock()
				results[req.ViewKey] = csv
				mu.Unlock()
			}(req)
		}
		wg.Wait()
	}

	c.logger.Info("view fetch batch finished",
		zap.String("site", site),
		zap.String("workbook", workbookName),
		zap.Int("requested", len(requests)),
		zap.Int("fetched", len(results)),
	)
	return results, nil
}

// doJSON executes a request with the retry policy and decodes a JSON body.
func (c *Client) doJSON(ctx context.Context, build func() (*http.Request, error), out any) error {
	var raw string
	if err := c.doRaw(ctx, build, &raw); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// doRaw executes a request with up to maxAttempts tries, exponential
// backoff on network errors and retryable statuses (5xx, 408, 429). Other
// 4xx responses are permanent: the request will not succeed on retry.
func (c *Client) doRaw(ctx context.Context, build func() (*http.Request, error), out *string) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, maxAttempts-1), ctx)

	return backoff.Retry(func() error {
		req, err := build()
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err // network error, retryable
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		if retryableStatus(resp.StatusCode) {
			return fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 200))
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 200)))
		}

		*out = string(body)
		return nil
	}, policy)
}

func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
