package authorize

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

const (
	fetchTimeout  = 5 * time.Second
	maxObjectSize = 64 * 1024
)

// HTTPObjectFetcher retrieves request objects over HTTPS with a bounded
// timeout and response size. It is the default ObjectFetcher for
// production wiring.
type HTTPObjectFetcher struct {
	client *http.Client
}

// NewHTTPObjectFetcher builds a fetcher. A nil client gets a default with
// the standard timeout.
func NewHTTPObjectFetcher(client *http.Client) *HTTPObjectFetcher {
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	return &HTTPObjectFetcher{client: client}
}

// Fetch retrieves the request object at uri. Non-2xx responses and
// oversized bodies fail; the caller maps any failure onto a protocol error.
func (f *HTTPObjectFetcher) Fetch(ctx context.Context, uri string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", errors.Wrap(err, "[Fetch] building request")
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "[Fetch] retrieving request object")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", errors.Errorf("[Fetch] request object endpoint answered %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxObjectSize+1))
	if err != nil {
		return "", errors.Wrap(err, "[Fetch] reading request object")
	}
	if len(body) > maxObjectSize {
		return "", errors.New("[Fetch] request object exceeds size limit")
	}
	return string(body), nil
}
