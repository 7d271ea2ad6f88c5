package blockfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

const (
	taostatsURL        = "https://api.taostats.io/api/network/blocks/latest"
	subscanURL         = "https://finney.api.subscan.io/api/scan/metadata"
	polkadotSubscanURL = "https://polkadot.webapi.subscan.io/api/scan/block"
	dashboardURL       = "https://api.bittensor.com/data/api/v1/blocks"
	explorerURL        = "https://explorer.finney.opentensor.ai/api/blocks?page=0&size=1"
)

//nolint:lll
type SourcesConfig struct {
	TaostatsKey string `long:"taostats-key" description:"Taostats API key (Taostats source is disabled without it)"`
	SubscanKey  string `long:"subscan-key"  description:"Subscan API key (keyed Subscan source is disabled without it)"`
}

// DefaultSources returns the block height sources in probe priority order.
func DefaultSources(cfg SourcesConfig) []Source {
	client := &http.Client{}
	return []Source{
		&taostatsSource{url: taostatsURL, apiKey: cfg.TaostatsKey, client: client},
		&subscanSource{url: subscanURL, apiKey: cfg.SubscanKey, client: client},
		&polkadotSubscanSource{url: polkadotSubscanURL, client: client},
		&dashboardSource{url: dashboardURL, client: client},
		&explorerSource{url: explorerURL, client: client},
	}
}

type taostatsSource struct {
	url    string
	apiKey string
	client *http.Client
}

func (s *taostatsSource) Name() string { return "taostats" }

func (s *taostatsSource) Probe(ctx context.Context) (uint64, error) {
	if s.apiKey == "" {
		return 0, ErrUnavailable
	}
	var body struct {
		BlockNumber flexNumber `json:"block_number"`
	}
	headers := http.Header{
		"Content-Type":  []string{"application/json"},
		"Authorization": []string{"Bearer " + s.apiKey},
	}
	if err := getJSON(ctx, s.client, s.url, headers, &body); err != nil {
		return 0, err
	}
	return parseHeight(body.BlockNumber)
}

type subscanSource struct {
	url    string
	apiKey string
	client *http.Client
}

func (s *subscanSource) Name() string { return "subscan" }

func (s *subscanSource) Probe(ctx context.Context) (uint64, error) {
	if s.apiKey == "" {
		return 0, ErrUnavailable
	}
	var body struct {
		Data struct {
			BlockNum flexNumber `json:"blockNum"`
		} `json:"data"`
	}
	headers := http.Header{
		"Content-Type": []string{"application/json"},
		"X-API-Key":    []string{s.apiKey},
	}
	if err := postJSON(ctx, s.client, s.url, headers, &body); err != nil {
		return 0, err
	}
	return parseHeight(body.Data.BlockNum)
}

type polkadotSubscanSource struct {
	url    string
	client *http.Client
}

func (s *polkadotSubscanSource) Name() string { return "polkadot-subscan" }

func (s *polkadotSubscanSource) Probe(ctx context.Context) (uint64, error) {
	var body struct {
		Data struct {
			BlockNum flexNumber `json:"block_num"`
		} `json:"data"`
	}
	headers := http.Header{"Content-Type": []string{"application/json"}}
	if err := postJSON(ctx, s.client, s.url, headers, &body); err != nil {
		return 0, err
	}
	return parseHeight(body.Data.BlockNum)
}

type dashboardSource struct {
	url    string
	client *http.Client
}

func (s *dashboardSource) Name() string { return "dashboard" }

func (s *dashboardSource) Probe(ctx context.Context) (uint64, error) {
	var body struct {
		FinalizedBlock flexNumber `json:"finalized_block"`
	}
	if err := getJSON(ctx, s.client, s.url, nil, &body); err != nil {
		return 0, err
	}
	return parseHeight(body.FinalizedBlock)
}

type explorerSource struct {
	url    string
	client *http.Client
}

func (s *explorerSource) Name() string { return "explorer" }

func (s *explorerSource) Probe(ctx context.Context) (uint64, error) {
	var body struct {
		Data []struct {
			Number flexNumber `json:"number"`
		} `json:"data"`
	}
	if err := getJSON(ctx, s.client, s.url, nil, &body); err != nil {
		return 0, err
	}
	if len(body.Data) == 0 {
		return 0, fmt.Errorf("empty block list")
	}
	return parseHeight(body.Data[0].Number)
}

func getJSON(ctx context.Context, client *http.Client, url string, headers http.Header, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return doJSON(client, req, headers, v)
}

func postJSON(ctx context.Context, client *http.Client, url string, headers http.Header, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader("{}"))
	if err != nil {
		return err
	}
	return doJSON(client, req, headers, v)
}

func doJSON(client *http.Client, req *http.Request, headers http.Header, v any) error {
	for key, values := range headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// flexNumber tolerates both numeric and quoted-string block numbers; the
// explorers are not consistent about which they return.
type flexNumber string

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*n = flexNumber(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	*n = flexNumber(num)
	return nil
}

func parseHeight(n flexNumber) (uint64, error) {
	if n == "" {
		return 0, fmt.Errorf("missing block number")
	}
	height, err := strconv.ParseUint(string(n), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing block number %q: %w", n, err)
	}
	return height, nil
}
