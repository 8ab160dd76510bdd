package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"tunishome/httputil"
	"tunishome/models"
)

const maxBodySize = 5 << 20

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Fetcher retrieves pages through a throttled gateway and decodes them with a fixed codec.
type Fetcher struct {
	client    *http.Client
	gateway   *httputil.Gateway
	encoding  encoding.Encoding
	userAgent string
}

func NewFetcher(client *http.Client, gateway *httputil.Gateway, encodingName, userAgent string) (*Fetcher, error) {
	enc, err := htmlindex.Get(encodingName)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", encodingName, err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	if gateway == nil {
		gateway = httputil.NewGateway(0, nil)
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Fetcher{client: client, gateway: gateway, encoding: enc, userAgent: userAgent}, nil
}

// Fetch returns the decoded body of url. Every failure is a *models.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	var body string
	err := f.gateway.Do(ctx, func(ctx context.Context) error {
		var err error
		body, err = f.get(ctx, url)
		return err
	})
	if err != nil {
		var fe *models.FetchError
		if errors.As(err, &fe) {
			return "", err
		}
		return "", &models.FetchError{URL: url, Err: err}
	}
	return body, nil
}

func (f *Fetcher) get(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &models.FetchError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "fr-FR,fr;q=0.9,ar;q=0.8,en;q=0.7")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", &models.FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", &models.FetchError{URL: url, StatusCode: resp.StatusCode}
	}

	decoded, err := io.ReadAll(f.encoding.NewDecoder().Reader(io.LimitReader(resp.Body, maxBodySize)))
	if err != nil {
		return "", &models.FetchError{URL: url, Err: fmt.Errorf("read body: %w", err)}
	}
	return string(decoded), nil
}
