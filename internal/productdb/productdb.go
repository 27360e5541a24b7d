// Package productdb looks up a DALI device's public product record by GTIN
// against the DALI Alliance's online registry. It's the one genuinely
// external collaborator of the gear façade (spec §4.7's FetchInfo step):
// no wire protocol or timing invariant of its own, just an HTTP client with
// a sane timeout and JSON decode.
package productdb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// DefaultBaseURL is the DALI Alliance product database's public lookup
// endpoint.
const DefaultBaseURL = "https://www.dali-alliance.org/api/products"

// DefaultTimeout bounds a single lookup request.
const DefaultTimeout = 5 * time.Second

// Record is the subset of the DALI Alliance's product record this client
// cares about.
type Record struct {
	GTIN         string `json:"gtin"`
	Manufacturer string `json:"manufacturer"`
	ProductName  string `json:"product_name"`
	DataSheetURL string `json:"datasheet_url"`
}

// Client looks up product records by GTIN over HTTP.
type Client struct {
	baseURL string
	hc      *http.Client
}

// New builds a Client. baseURL defaults to DefaultBaseURL when empty.
func New(baseURL string, hc *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if hc == nil {
		hc = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{baseURL: baseURL, hc: hc}
}

// ErrNotFound is returned when the registry has no record for gtin.
var ErrNotFound = fmt.Errorf("productdb: no record for GTIN")

// Fetch looks up the product record for a 6-byte GTIN, formatted as a
// 12-hex-digit string the way gear.Info.GTIN prints it.
func (c *Client) Fetch(ctx context.Context, gtin uint64) (Record, error) {
	u := fmt.Sprintf("%s/%s", c.baseURL, url.PathEscape(fmt.Sprintf("%012x", gtin)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Record{}, fmt.Errorf("productdb: build request: %w", err)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return Record{}, fmt.Errorf("productdb: fetch %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Record{}, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return Record{}, fmt.Errorf("productdb: unexpected status %s for %s", resp.Status, u)
	}

	var rec Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return Record{}, fmt.Errorf("productdb: decode response: %w", err)
	}
	return rec, nil
}
