package source

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/buremba/owletto-crawlers/internal/engine"
)

// defaultUserAgent identifies collection requests to upstream APIs.
const defaultUserAgent = "owletto-crawlers/1.0"

// maxResponseBytes caps API response bodies.
const maxResponseBytes = 10 << 20

// fetchJSON performs one GET against an API endpoint, classifies the
// response status into the engine's error taxonomy and returns the body.
// The caller supplies auth headers; they are never logged here.
func fetchJSON(
	ctx context.Context,
	client *http.Client,
	endpoint string,
	headers map[string]string,
) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	if classifyErr := engine.ClassifyStatus(resp.StatusCode, resp.Header); classifyErr != nil {
		return nil, classifyErr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", engine.ErrTransientNetwork, err)
	}
	return body, nil
}
