package common

// URL validation helpers used by ScrapeWorker/CrawlWorker before a URI is
// persisted as a Source.

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ternarybob/arbor"
)

// ValidateSourceURI validates a URI a Fetcher is about to be asked to scrape
// or crawl, and flags loopback/test hosts so operators can catch
// misconfigured seed URLs in production.
// Returns: (isValid, isTestURL, warnings, err).
func ValidateSourceURI(uri string, logger arbor.ILogger) (bool, bool, []string, error) {
	warnings := []string{}

	parsed, err := url.Parse(uri)
	if err != nil {
		return false, false, warnings, fmt.Errorf("invalid URL format: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false, false, warnings, fmt.Errorf("invalid URL scheme: %s (expected http or https)", parsed.Scheme)
	}
	if parsed.Host == "" {
		return false, false, warnings, fmt.Errorf("URL host is empty")
	}

	host := strings.ToLower(parsed.Host)
	isTestURL := false
	for _, prefix := range []string{"localhost", "127.0.0.1", "0.0.0.0", "[::1]"} {
		if strings.HasPrefix(host, prefix) {
			isTestURL = true
			warnings = append(warnings, fmt.Sprintf("test URL detected: %s uses %s", uri, prefix))
		}
	}

	if logger != nil {
		logger.Debug().Str("uri", uri).Str("host", host).Msg("validated source URI")
	}
	return true, isTestURL, warnings, nil
}
