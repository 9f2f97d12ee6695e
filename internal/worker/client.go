// Package worker is the HTTP client for the external satellite processing
// worker. The worker does the heavy raster work; this client dispatches
// queue batches to it and reads back per-land vegetation index results.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/agrisat/harvest-go/internal/conf"
	"github.com/agrisat/harvest-go/internal/errors"
	"github.com/agrisat/harvest-go/internal/httpclient"
	"github.com/agrisat/harvest-go/internal/logging"
)

// maxErrorBodyBytes caps how much of an error response body we keep for
// diagnostics.
const maxErrorBodyBytes = 2048

// ProcessRequest is the dispatch payload for one queue item.
type ProcessRequest struct {
	QueueID  string   `json:"queue_id"`
	TenantID string   `json:"tenant_id"`
	LandIDs  []string `json:"land_ids"`
	TileID   string   `json:"tile_id"`
}

// LandResult is the worker's per-land outcome, carrying the computed
// vegetation indices when processing succeeded for that land.
type LandResult struct {
	LandID          string  `json:"land_id"`
	Status          string  `json:"status"`
	Date            string  `json:"date"`
	NDVI            float64 `json:"ndvi"`
	EVI             float64 `json:"evi"`
	NDWI            float64 `json:"ndwi"`
	SAVI            float64 `json:"savi"`
	NDVIMin         float64 `json:"ndvi_min"`
	NDVIMax         float64 `json:"ndvi_max"`
	NDVIMean        float64 `json:"ndvi_mean"`
	NDVIStd         float64 `json:"ndvi_std"`
	CoveragePercent float64 `json:"coverage_percent"`
	CloudCover      float64 `json:"cloud_cover"`
	RasterSource    string  `json:"raster_source"`
	Message         string  `json:"message,omitempty"`
}

// ProcessResponse is the worker's answer to a batch dispatch.
type ProcessResponse struct {
	Status         string       `json:"status"`
	ProcessedCount int          `json:"processed_count"`
	TotalLands     int          `json:"total_lands"`
	Message        string       `json:"message"`
	Lands          []LandResult `json:"lands"`
}

// Success reports whether the worker accepted and processed the batch.
func (r *ProcessResponse) Success() bool {
	return r.Status == "success" || r.Status == "completed"
}

// StatusResponse is the worker's view of one request's progress.
type StatusResponse struct {
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	Message   string `json:"message"`
	UpdatedAt string `json:"updated_at"`
}

// Client talks to the satellite worker API.
type Client struct {
	baseURL string
	apiKey  string
	http    *httpclient.Client
	logger  *slog.Logger
}

// New creates a worker client from the application settings.
func New(settings *conf.Settings) *Client {
	cfg := httpclient.DefaultConfig()
	cfg.DefaultTimeout = settings.WorkerTimeout()

	logger := logging.ForService("worker-client")
	if logger == nil {
		logger = slog.Default().With("service", "worker-client")
	}

	return &Client{
		baseURL: strings.TrimRight(settings.Worker.BaseURL, "/"),
		apiKey:  settings.Worker.APIKey,
		http:    httpclient.New(&cfg),
		logger:  logger,
	}
}

// ProcessBatch dispatches one queue item's lands to the worker and returns
// its synchronous result. A non-2xx response is a dispatch error; the body
// of a 2xx response still has to report success for the batch to count.
func (c *Client) ProcessBatch(ctx context.Context, req *ProcessRequest) (*ProcessResponse, error) {
	url := c.baseURL + "/api/v1/ndvi/process-queue"
	c.logger.Debug("dispatching batch to worker",
		"queue_id", req.QueueID, "tile_id", req.TileID, "lands", len(req.LandIDs))

	var resp ProcessResponse
	if err := c.postJSON(ctx, url, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RequestStatus fetches the worker-side status of a request.
func (c *Client) RequestStatus(ctx context.Context, requestID string) (*StatusResponse, error) {
	url := fmt.Sprintf("%s/requests/%s/status", c.baseURL, requestID)
	var resp StatusResponse
	if err := c.getJSON(ctx, url, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RequestData fetches the per-land results of a completed request. Used as
// a fallback when the dispatch response carried no inline results.
func (c *Client) RequestData(ctx context.Context, requestID string) ([]LandResult, error) {
	url := fmt.Sprintf("%s/requests/%s/data", c.baseURL, requestID)
	var resp struct {
		Lands []LandResult `json:"lands"`
	}
	if err := c.getJSON(ctx, url, &resp); err != nil {
		return nil, err
	}
	return resp.Lands, nil
}

// Health probes the worker's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.doRequest(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return errors.Newf("worker health check returned HTTP %d", resp.StatusCode).
			Component("worker-client").
			Category(errors.CategoryNetwork).
			Context("status_code", resp.StatusCode).
			Build()
	}
	return nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.Close()
}

func (c *Client) postJSON(ctx context.Context, url string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err).
			Component("worker-client").
			Category(errors.CategoryDispatch).
			Build()
	}

	resp, err := c.doRequest(ctx, http.MethodPost, url, data)
	if err != nil {
		return err
	}
	return c.decodeResponse(resp, url, out)
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	resp, err := c.doRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return c.decodeResponse(resp, url, out)
}

func (c *Client) doRequest(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		reader = strings.NewReader(string(body))
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, errors.Wrap(err).
			Component("worker-client").
			Category(errors.CategoryNetwork).
			Context("url", url).
			Build()
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err).
			Component("worker-client").
			Category(errors.CategoryNetwork).
			Context("url", url).
			Build()
	}
	return resp, nil
}

func (c *Client) decodeResponse(resp *http.Response, url string, out any) error {
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return errors.Newf("worker returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))).
			Component("worker-client").
			Category(errors.CategoryDispatch).
			Context("url", url).
			Context("status_code", resp.StatusCode).
			Build()
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err).
			Component("worker-client").
			Category(errors.CategoryDispatch).
			Context("url", url).
			Build()
	}
	return nil
}
