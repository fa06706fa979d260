package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RESTClient queries the futures REST API for data not carried on the
// WebSocket streams.
type RESTClient struct {
	baseURL string
	client  *http.Client
}

func NewRESTClient(baseURL string) *RESTClient {
	return &RESTClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type openInterestResponse struct {
	Symbol       string `json:"symbol"`
	OpenInterest string `json:"openInterest"`
	Time         int64  `json:"time"`
}

type fundingRateResponse struct {
	Symbol      string `json:"symbol"`
	FundingRate string `json:"fundingRate"`
	FundingTime int64  `json:"fundingTime"`
}

// OpenInterest fetches the current open interest for a symbol.
func (c *RESTClient) OpenInterest(ctx context.Context, symbol string) (openInterestResponse, error) {
	var out openInterestResponse
	url := fmt.Sprintf("%s/fapi/v1/openInterest?symbol=%s", c.baseURL, strings.ToUpper(symbol))
	if err := c.getJSON(ctx, url, &out); err != nil {
		return out, fmt.Errorf("open interest %s: %w", symbol, err)
	}
	return out, nil
}

// LatestFundingRate fetches the most recent settled funding rate.
func (c *RESTClient) LatestFundingRate(ctx context.Context, symbol string) (fundingRateResponse, error) {
	url := fmt.Sprintf("%s/fapi/v1/fundingRate?symbol=%s&limit=1", c.baseURL, strings.ToUpper(symbol))
	var arr []fundingRateResponse
	if err := c.getJSON(ctx, url, &arr); err != nil {
		return fundingRateResponse{}, fmt.Errorf("funding rate %s: %w", symbol, err)
	}
	if len(arr) == 0 {
		return fundingRateResponse{}, fmt.Errorf("funding rate %s: empty response", symbol)
	}
	return arr[0], nil
}

func (c *RESTClient) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
