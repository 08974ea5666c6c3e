package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 16, cfg.Crawler.Concurrency)
	require.Equal(t, 8, cfg.Crawler.PerDomainMax)
	require.Equal(t, 3, cfg.Crawler.MaxRetries)
	require.Equal(t, 2, cfg.Crawler.MaxDepth)
	require.Equal(t, 50, cfg.Extract.MinContentLength)
	require.Equal(t, 100, cfg.Extract.FallbackMinChars)
	require.Equal(t, 10, cfg.Extract.MaxLinksPerPage)
	require.Equal(t, 60, cfg.Scheduler.TickSeconds)
	require.Equal(t, "articles", cfg.DB.ArticleTable)
	require.Equal(t, "none", cfg.Archive.Provider)
	require.Equal(t, 15*time.Second, cfg.FetchTimeout())
	require.Equal(t, time.Second, cfg.DownloadDelay())
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
crawler:
  concurrency: 4
  user_agent: "test-agent/1.0"
sources:
  - name: example
    url: https://example.com/news
    enabled: true
    interval_minutes: 15
    selector: "div.article-content"
    category: technology
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 4, cfg.Crawler.Concurrency)
	require.Equal(t, "test-agent/1.0", cfg.Crawler.UserAgent)
	require.Len(t, cfg.Sources, 1)
	require.Equal(t, "example", cfg.Sources[0].Name)
	require.Equal(t, "div.article-content", cfg.Sources[0].Selector)
	require.Equal(t, 15, cfg.Sources[0].Interval)
}

func TestLoadRejectsMalformedSource(t *testing.T) {
	path := writeConfig(t, `
sources:
  - name: broken
    url: https://example.com
    interval_minutes: 0
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "interval_minutes")
}

func TestLoadRejectsSourceWithoutURL(t *testing.T) {
	path := writeConfig(t, `
sources:
  - name: nourl
    interval_minutes: 30
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "url is required")
}

func TestValidateArchiveProvider(t *testing.T) {
	path := writeConfig(t, `
archive:
  provider: gcs
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "gcs_bucket")

	path = writeConfig(t, `
archive:
  provider: tape
`)
	_, err = Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "archive.provider")
}
