package config

import (
	"fmt"
	"os"
	"time"

	"github.com/chainhook/pipeline/pkg/types"
	"gopkg.in/yaml.v3"
)

// chainsFile is the on-disk shape of the optional static chain list. It is
// intentionally a thin, human-editable mirror of types.ChainConfig rather
// than the type itself, so the wire format can evolve without touching the
// domain model.
type chainsFile struct {
	Chains []chainEntry `yaml:"chains"`
}

type chainEntry struct {
	ChainID               int64  `yaml:"chain_id"`
	DisplayName           string `yaml:"display_name"`
	WebsocketURL          string `yaml:"websocket_url"`
	HTTPURL               string `yaml:"http_url"`
	MaxReconnectAttempts  int    `yaml:"max_reconnect_attempts"`
	InitialReconnectDelay string `yaml:"initial_reconnect_delay"`
	PollInterval          string `yaml:"poll_interval"`
}

// LoadChains reads the YAML chain-list file named by Config.ChainsFile and
// returns the chains the supervisor should subscribe to.
func LoadChains(path string) ([]types.ChainConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chains file: %w", err)
	}

	var parsed chainsFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse chains file: %w", err)
	}

	chains := make([]types.ChainConfig, 0, len(parsed.Chains))
	for _, e := range parsed.Chains {
		delay := 1 * time.Second
		if e.InitialReconnectDelay != "" {
			if d, err := time.ParseDuration(e.InitialReconnectDelay); err == nil {
				delay = d
			}
		}
		maxAttempts := e.MaxReconnectAttempts
		if maxAttempts == 0 {
			maxAttempts = 10
		}
		if e.ChainID == 0 {
			return nil, fmt.Errorf("chains file: entry %q missing chain_id", e.DisplayName)
		}
		if e.WebsocketURL == "" && e.HTTPURL == "" {
			return nil, fmt.Errorf("chains file: chain %d missing both websocket_url and http_url", e.ChainID)
		}
		var pollInterval time.Duration
		if e.PollInterval != "" {
			if d, err := time.ParseDuration(e.PollInterval); err == nil {
				pollInterval = d
			}
		}
		chains = append(chains, types.ChainConfig{
			ChainID:               e.ChainID,
			DisplayName:           e.DisplayName,
			WebsocketURL:          e.WebsocketURL,
			HTTPURL:               e.HTTPURL,
			MaxReconnectAttempts:  maxAttempts,
			InitialReconnectDelay: delay,
			PollInterval:          pollInterval,
		})
	}
	return chains, nil
}
