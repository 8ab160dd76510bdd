package httputil

import (
	"net/http"
	"net/url"
	"time"

	"tunishome/config"
)

type Clients struct {
	Scraping *http.Client // source site, optionally proxied
	API      *http.Client // geocoder and other JSON APIs
	Media    *http.Client // image downloads
}

func NewClients(cfg *config.HTTPConfig) *Clients {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
	}
	if cfg.ProxyURL != "" {
		if proxyURL, err := url.Parse(cfg.ProxyURL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	return &Clients{
		Scraping: &http.Client{Timeout: cfg.FetchTimeout, Transport: transport},
		API:      &http.Client{Timeout: cfg.APITimeout},
		Media:    &http.Client{Timeout: 60 * time.Second},
	}
}
