// Package chain implements the registrar's ChainClient capability over the
// node's JSON-RPC HTTP endpoint. It is a thin I/O wrapper; all scheduling
// and retry policy lives in the registrar.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/tensorwatch/subreg/registrar"
)

//nolint:lll
type Config struct {
	Endpoint      string        `long:"endpoint"       description:"JSON-RPC endpoint of the chain node"`
	Timeout       time.Duration `long:"timeout"        description:"Timeout for chain queries"`
	SubmitTimeout time.Duration `long:"submit-timeout" description:"Timeout for a registration submission, including inclusion and finalization"`
}

func DefaultConfig() Config {
	return Config{
		Endpoint:      "https://entrypoint-finney.opentensor.ai",
		Timeout:       30 * time.Second,
		SubmitTimeout: 10 * time.Minute,
	}
}

type Client struct {
	cfg    Config
	client *http.Client
	nextID atomic.Uint64
}

func NewClient(cfg Config) *Client {
	return &Client{
		cfg:    cfg,
		client: &http.Client{},
	}
}

func (c *Client) IsRegistered(ctx context.Context, netuid uint32, cred registrar.Credential) (bool, error) {
	var registered bool
	err := c.call(ctx, c.cfg.Timeout, "subnet_isRegistered", []any{netuid, cred.Coldkey, cred.Hotkey}, &registered)
	if err != nil {
		return false, fmt.Errorf("querying registration status for %s: %w", cred, err)
	}
	return registered, nil
}

func (c *Client) RegistrationCost(ctx context.Context, netuid uint32) (float64, error) {
	var cost float64
	err := c.call(ctx, c.cfg.Timeout, "subnet_registrationCost", []any{netuid}, &cost)
	if err != nil {
		return 0, fmt.Errorf("querying registration cost: %w", err)
	}
	return cost, nil
}

func (c *Client) Balance(ctx context.Context, cred registrar.Credential) (float64, error) {
	var balance float64
	err := c.call(ctx, c.cfg.Timeout, "wallet_balance", []any{cred.Coldkey}, &balance)
	if err != nil {
		return 0, fmt.Errorf("querying balance for %s: %w", cred, err)
	}
	return balance, nil
}

// Submit registers the credential, waiting for inclusion and finalization.
// It blocks up to SubmitTimeout; a rejected registration surfaces as false.
func (c *Client) Submit(ctx context.Context, netuid uint32, cred registrar.Credential, totalCost float64) (bool, error) {
	var accepted bool
	err := c.call(ctx, c.cfg.SubmitTimeout, "subnet_register", []any{netuid, cred.Coldkey, cred.Hotkey, totalCost}, &accepted)
	if err != nil {
		return false, fmt.Errorf("submitting registration for %s: %w", cred, err)
	}
	return accepted, nil
}

type rpcRequest struct {
	Version string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (c *Client) call(ctx context.Context, timeout time.Duration, method string, params []any, result any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(rpcRequest{
		Version: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("decoding result for %s: %w", method, err)
	}
	return nil
}
