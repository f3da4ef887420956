package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/snapetech/vidcat/internal/catalog"
)

// CheckEndpoints hits /healthz and /videos at baseURL and returns the first error or nil.
func CheckEndpoints(ctx context.Context, baseURL string) error {
	if strings.TrimSpace(baseURL) == "" {
		return fmt.Errorf("no base URL")
	}
	baseURL = strings.TrimRight(baseURL, "/")
	client := &http.Client{Timeout: 5 * time.Second}
	for _, path := range []string{"/healthz", "/videos"} {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s: HTTP %d", path, resp.StatusCode)
		}
	}
	return nil
}

// FetchCatalog returns the catalog served at baseURL/videos.
func FetchCatalog(ctx context.Context, baseURL string) ([]catalog.Video, error) {
	u := strings.TrimRight(baseURL, "/") + "/videos"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog returned HTTP %d", resp.StatusCode)
	}
	var videos []catalog.Video
	if err := json.NewDecoder(resp.Body).Decode(&videos); err != nil {
		return nil, fmt.Errorf("catalog decode: %w", err)
	}
	return videos, nil
}
