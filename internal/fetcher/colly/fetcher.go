// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/proxy"
	"golang.org/x/net/html/charset"

	"github.com/newsloom/crawler/internal/crawler"
)

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRedirects int
	// ProxyURLs, when set, are rotated round-robin before each attempt.
	ProxyURLs []string
}

// Fetcher executes one HTTP GET per call. All shared-state bookkeeping
// (politeness delays, backoff) lives in the scheduler, not here.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) (*Fetcher, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 10
	}

	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	if len(cfg.ProxyURLs) > 0 {
		switcher, err := proxy.RoundRobinProxySwitcher(cfg.ProxyURLs...)
		if err != nil {
			return nil, fmt.Errorf("build proxy switcher: %w", err)
		}
		c.SetProxyFunc(switcher)
	}

	return &Fetcher{cfg: cfg, baseCollector: c}, nil
}

// Fetch executes a single HTTP GET and returns the raw document. HTTP
// error statuses, timeouts and connection failures all come back as
// *crawler.FetchError so the retry policy can classify them.
func (f *Fetcher) Fetch(ctx context.Context, url string) (crawler.RawDocument, error) {
	var (
		doc      crawler.RawDocument
		fetchErr *crawler.FetchError
	)
	start := time.Now()

	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)
	maxRedirects := f.cfg.MaxRedirects
	collector.SetRedirectHandler(func(_ *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return nil
	})

	collector.OnResponse(func(r *colly.Response) {
		contentType := r.Headers.Get("Content-Type")
		body, encoding := normalizeBody(r.Body, contentType)
		doc = crawler.RawDocument{
			URL:        url,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       body,
			Encoding:   encoding,
			Headers:    r.Headers.Clone(),
			FetchedAt:  time.Now().UTC(),
			Duration:   time.Since(start),
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			fetchErr = &crawler.FetchError{
				Kind:       crawler.FetchHTTPStatus,
				URL:        url,
				StatusCode: r.StatusCode,
				Err:        err,
			}
			return
		}
		fetchErr = crawler.ClassifyFetchError(url, err)
	})

	visitErr, err := f.visit(ctx, collector, url)
	if err != nil {
		return crawler.RawDocument{}, err
	}
	if fetchErr != nil {
		return crawler.RawDocument{}, fetchErr
	}
	if visitErr != nil {
		return crawler.RawDocument{}, crawler.ClassifyFetchError(url, visitErr)
	}
	if doc.StatusCode == 0 {
		return crawler.RawDocument{}, &crawler.FetchError{
			Kind: crawler.FetchConnectionError,
			URL:  url,
			Err:  fmt.Errorf("no response received"),
		}
	}
	return doc, nil
}

// visit runs the collector, separating context cancellation (fatal)
// from transport errors (classified by the caller).
func (f *Fetcher) visit(ctx context.Context, collector *colly.Collector, url string) (error, error) {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		return err, nil
	}
}

// normalizeBody converts the response body to UTF-8 based on the
// Content-Type header and byte sniffing, returning the detected
// encoding label.
func normalizeBody(body []byte, contentType string) ([]byte, string) {
	enc, name, _ := charset.DetermineEncoding(body, contentType)
	if name == "utf-8" || enc == nil {
		return body, "utf-8"
	}
	decoded, err := io.ReadAll(enc.NewDecoder().Reader(bytes.NewReader(body)))
	if err != nil {
		return body, name
	}
	return decoded, name
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

// ContentTypeIsHTML reports whether the response looks like HTML.
func ContentTypeIsHTML(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}
