package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sigweihq/simchain/pkg/constants"
	"github.com/sigweihq/simchain/pkg/utils"
)

// ChainListURL is the public endpoint registry used for discovery
const ChainListURL = "https://chainlist.org/rpcs.json"

// ChainListResponse represents a chain entry from chainlist.org/rpcs.json
type ChainListResponse struct {
	ChainID int `json:"chainId"`
	RPC     []struct {
		URL string `json:"url"`
	} `json:"rpc"`
}

// EndpointDiscoverer finds public fallback RPC endpoints for an EVM chain id
// and orders them so that healthy endpoints come first
type EndpointDiscoverer struct {
	sourceURL  string
	httpClient *http.Client
	logger     *slog.Logger

	// healthy is swapped in tests
	healthy func(ctx context.Context, endpoint string) bool
}

// NewEndpointDiscoverer creates a discoverer reading from sourceURL (ChainListURL when empty)
func NewEndpointDiscoverer(logger *slog.Logger, sourceURL string) *EndpointDiscoverer {
	if logger == nil {
		logger = slog.Default()
	}
	if sourceURL == "" {
		sourceURL = ChainListURL
	}
	return &EndpointDiscoverer{
		sourceURL:  sourceURL,
		httpClient: utils.CreateHTTPClientWithTimeouts(constants.RelayTimeout),
		logger:     logger,
		healthy:    isEndpointHealthy,
	}
}

// Discover returns the HTTPS endpoints listed for chainID, healthy first, excluding those in known
func (d *EndpointDiscoverer) Discover(ctx context.Context, chainID int64, known []string) ([]string, error) {
	chainList, err := d.fetchAllChains(ctx)
	if err != nil {
		return nil, err
	}

	skip := make(map[string]bool, len(known))
	for _, endpoint := range known {
		skip[endpoint] = true
	}

	var candidates []string
	for _, chain := range chainList {
		if int64(chain.ChainID) != chainID {
			continue
		}
		for _, rpc := range chain.RPC {
			// Only include HTTPS URLs and exclude templated URLs
			if strings.HasPrefix(rpc.URL, "https://") && !strings.Contains(rpc.URL, "${") && !skip[rpc.URL] {
				skip[rpc.URL] = true
				candidates = append(candidates, rpc.URL)
			}
		}
	}

	return d.prioritize(ctx, chainID, candidates), nil
}

// fetchAllChains fetches chain data from the registry
func (d *EndpointDiscoverer) fetchAllChains(ctx context.Context) ([]ChainListResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create chainlist request: %w", err)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chainlist data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chainlist returned status %d", resp.StatusCode)
	}

	var chainList []ChainListResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, constants.MaxResponseBodySize)).Decode(&chainList); err != nil {
		return nil, fmt.Errorf("failed to decode chainlist data: %w", err)
	}

	return chainList, nil
}

// prioritize checks endpoint health and puts working ones first
func (d *EndpointDiscoverer) prioritize(ctx context.Context, chainID int64, endpoints []string) []string {
	var healthyEndpoints, unhealthyEndpoints []string
	for _, endpoint := range endpoints {
		if d.healthy(ctx, endpoint) {
			healthyEndpoints = append(healthyEndpoints, endpoint)
		} else {
			unhealthyEndpoints = append(unhealthyEndpoints, endpoint)
		}
	}

	d.logger.Debug("health check complete",
		"chainID", chainID,
		"healthy", len(healthyEndpoints),
		"unhealthy", len(unhealthyEndpoints))

	// unhealthy endpoints stay as a last resort
	return append(healthyEndpoints, unhealthyEndpoints...)
}

// isEndpointHealthy performs a simple health check on an RPC endpoint
func isEndpointHealthy(ctx context.Context, endpoint string) bool {
	client, err := ethclient.Dial(endpoint)
	if err != nil {
		return false
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, constants.HealthCheckTimeout)
	defer cancel()

	_, err = client.BlockNumber(ctx)
	return err == nil
}
