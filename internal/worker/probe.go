package worker

import (
	"context"
	"fmt"
	"net/http"

	"github.com/kroni66/luminAI-sub000/internal/common"
)

// Probe fetches download metadata (content length, MIME type,
// Content-Disposition) before the download starts. It tries a HEAD request
// and falls back to a GET whose body is discarded immediately. Callers treat
// failures as degraded metadata, not as fatal errors.
func Probe(ctx context.Context, client *http.Client, rawURL, referrer string) (*common.ProbeInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	resp, err := probeRequest(ctx, client, http.MethodHead, rawURL, referrer)
	if err != nil || resp.StatusCode >= 400 {
		if resp != nil {
			resp.Body.Close()
		}

		resp, err = probeRequest(ctx, client, http.MethodGet, rawURL, referrer)
		if err != nil {
			return nil, fmt.Errorf("probe failed: %w", err)
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("probe failed: server returned %s", resp.Status)
	}

	info := &common.ProbeInfo{
		URL:                resp.Request.URL.String(),
		MimeType:           resp.Header.Get("Content-Type"),
		ContentDisposition: resp.Header.Get("Content-Disposition"),
	}
	if resp.ContentLength > 0 {
		info.TotalSize = resp.ContentLength
	}

	return info, nil
}

func probeRequest(ctx context.Context, client *http.Client, method, rawURL, referrer string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", defaultUserAgent)
	if referrer != "" {
		req.Header.Set("Referer", referrer)
	}

	return client.Do(req)
}
