package jwks

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/PaulFidika/authgate/core"
	jwtkit "github.com/PaulFidika/authgate/jwt"
)

const maxDocumentSize = 1 << 20

// Fetcher downloads a provider's JWKS over HTTPS. It holds no key state.
type Fetcher struct {
	client   *http.Client
	timeout  time.Duration
	endpoint func(domain string) string
	log      logrus.FieldLogger
}

// FetcherOpt configures a Fetcher.
type FetcherOpt func(*Fetcher)

// WithHTTPClient sets the client used for fetches.
func WithHTTPClient(c *http.Client) FetcherOpt {
	return func(f *Fetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// WithTimeout bounds each fetch.
func WithTimeout(d time.Duration) FetcherOpt {
	return func(f *Fetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithEndpoint overrides the URL derived from the domain.
func WithEndpoint(url string) FetcherOpt {
	return func(f *Fetcher) {
		if url != "" {
			f.endpoint = func(string) string { return url }
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) FetcherOpt {
	return func(f *Fetcher) {
		if l != nil {
			f.log = l
		}
	}
}

func NewFetcher(opts ...FetcherOpt) *Fetcher {
	f := &Fetcher{
		client:   http.DefaultClient,
		timeout:  core.DefaultFetchTimeout,
		endpoint: WellKnownURL,
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// URL returns the endpoint fetched for domain.
func (f *Fetcher) URL(domain string) string { return f.endpoint(domain) }

// Fetch downloads the raw document. Errors are KindKeySetUnavailable.
func (f *Fetcher) Fetch(ctx context.Context, domain string) ([]byte, error) {
	url := f.endpoint(domain)
	log := f.log.WithFields(logrus.Fields{"domain": domain, "url": url})

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, unavailable(err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		log.WithError(err).Warn("jwks fetch failed")
		return nil, unavailable(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.WithField("status", resp.StatusCode).Warn("jwks fetch returned non-200")
		return nil, unavailable(fmt.Errorf("jwks endpoint returned %d", resp.StatusCode))
	}
	doc, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
	if err != nil {
		log.WithError(err).Warn("jwks read failed")
		return nil, unavailable(err)
	}
	if len(doc) > maxDocumentSize {
		return nil, unavailable(fmt.Errorf("jwks document exceeds %d bytes", maxDocumentSize))
	}
	log.WithField("elapsed", time.Since(start)).Debug("jwks fetched")
	return doc, nil
}

// Resolve fetches and parses the key set. No caching: one request per call.
func (f *Fetcher) Resolve(ctx context.Context, domain string) (*jwtkit.KeySet, error) {
	doc, err := f.Fetch(ctx, domain)
	if err != nil {
		return nil, err
	}
	return parse(doc)
}
