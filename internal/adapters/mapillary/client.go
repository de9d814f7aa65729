package mapillary

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/samirrijal/mapoverlay/internal/core/domain"
)

// maxResponseBytes caps a single sequences response.
const maxResponseBytes = 32 << 20

// Client implements ports.FeatureSource against the sequences endpoint.
type Client struct {
	http     *http.Client
	endpoint string
	clientID string
}

// NewClient creates a client for endpoint, e.g.
// https://a.mapillary.com/v3/sequences.
func NewClient(endpoint, clientID string, timeout time.Duration) *Client {
	return &Client{
		http:     &http.Client{Timeout: timeout},
		endpoint: endpoint,
		clientID: clientID,
	}
}

// FetchFeatures returns the raw GeoJSON FeatureCollection of the sequences
// inside box.
func (c *Client) FetchFeatures(ctx context.Context, box domain.BoundingBox) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(box), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET sequences: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d from sequences endpoint", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func (c *Client) requestURL(box domain.BoundingBox) string {
	b := box.Degrees()
	q := url.Values{}
	q.Set("client_id", c.clientID)
	q.Set("bbox", formatDeg(b.MinLon)+","+formatDeg(b.MinLat)+","+formatDeg(b.MaxLon)+","+formatDeg(b.MaxLat))
	return c.endpoint + "?" + q.Encode()
}

func formatDeg(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
