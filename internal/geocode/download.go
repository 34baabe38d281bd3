package geocode

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// httpFetcher is the production Fetcher: a conditional GET against
// cfg.SourceURI using If-Modified-Since (see geocoder.go's pollLoop).
type httpFetcher struct {
	uri    string
	client *http.Client
}

// NewHTTPFetcher builds a Fetcher against uri with the given request
// timeout.
func NewHTTPFetcher(uri string, timeout time.Duration) Fetcher {
	return &httpFetcher{
		uri:    uri,
		client: &http.Client{Timeout: timeout},
	}
}

func (f *httpFetcher) Fetch(ctx context.Context, ifModifiedSince time.Time) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.uri, nil)
	if err != nil {
		return nil, false, fmt.Errorf("geocode: building request: %w", err)
	}
	if !ifModifiedSince.IsZero() {
		req.Header.Set("If-Modified-Since", ifModifiedSince.Format(http.TimeFormat))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("geocode: fetching %s: %w", f.uri, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return nil, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("geocode: fetching %s: unexpected status %s", f.uri, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("geocode: reading response body: %w", err)
	}
	return body, true, nil
}
