// internal/chains/tron/client.go
package tron

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// StatusError is a non-2xx TronGrid response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// TronHTTPClient handles HTTP API calls to TronGrid
type TronHTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewTronHTTPClient creates a new HTTP client for TronGrid
func NewTronHTTPClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *TronHTTPClient {
	return &TronHTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// TransactionResponse is the subset of /wallet/gettransactionbyid we read.
// An unknown transaction comes back as an empty object.
type TransactionResponse struct {
	TxID string `json:"txID"`
	Ret  []struct {
		ContractRet string `json:"contractRet"`
	} `json:"ret"`
}

// ContractResult returns the first contract result, or "" when absent.
func (t *TransactionResponse) ContractResult() string {
	if len(t.Ret) == 0 {
		return ""
	}
	return t.Ret[0].ContractRet
}

// TransactionInfoResponse is the subset of /wallet/gettransactioninfobyid we read.
type TransactionInfoResponse struct {
	ID             string `json:"id"`
	BlockNumber    int64  `json:"blockNumber"`
	BlockTimeStamp int64  `json:"blockTimeStamp"`
}

// EventsResponse is /v1/transactions/{id}/events.
type EventsResponse struct {
	Success bool    `json:"success"`
	Data    []Event `json:"data"`
}

// Event is one contract event emitted by a transaction.
type Event struct {
	BlockNumber     int64             `json:"block_number"`
	BlockTimestamp  int64             `json:"block_timestamp"`
	ContractAddress string            `json:"contract_address"`
	EventName       string            `json:"event_name"`
	TransactionID   string            `json:"transaction_id"`
	Result          map[string]string `json:"result"`
}

// NowBlockResponse is the subset of /wallet/getnowblock we read.
type NowBlockResponse struct {
	BlockHeader struct {
		RawData struct {
			Number int64 `json:"number"`
		} `json:"raw_data"`
	} `json:"block_header"`
}

// GetTransactionByID fetches a transaction and its contract result.
func (c *TronHTTPClient) GetTransactionByID(ctx context.Context, txID string) (*TransactionResponse, error) {
	var result TransactionResponse
	if err := c.post(ctx, "/wallet/gettransactionbyid", map[string]any{"value": txID, "visible": true}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetTransactionInfo fetches the receipt info, including the block number.
func (c *TronHTTPClient) GetTransactionInfo(ctx context.Context, txID string) (*TransactionInfoResponse, error) {
	var result TransactionInfoResponse
	if err := c.post(ctx, "/wallet/gettransactioninfobyid", map[string]any{"value": txID}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetTransactionEvents lists the events emitted by txID.
func (c *TronHTTPClient) GetTransactionEvents(ctx context.Context, txID string) (*EventsResponse, error) {
	var result EventsResponse
	if err := c.get(ctx, "/v1/transactions/"+url.PathEscape(txID)+"/events", &result); err != nil {
		return nil, err
	}
	c.logger.Debug("transaction events retrieved",
		zap.String("tx_id", txID),
		zap.Int("count", len(result.Data)))
	return &result, nil
}

// GetNowBlockNumber returns the latest block number.
func (c *TronHTTPClient) GetNowBlockNumber(ctx context.Context) (int64, error) {
	var result NowBlockResponse
	if err := c.post(ctx, "/wallet/getnowblock", map[string]any{}, &result); err != nil {
		return 0, err
	}
	return result.BlockHeader.RawData.Number, nil
}

func (c *TronHTTPClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, out)
}

func (c *TronHTTPClient) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, out)
}

func (c *TronHTTPClient) do(req *http.Request, out any) error {
	if c.apiKey != "" {
		req.Header.Set("TRON-PRO-API-KEY", c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
