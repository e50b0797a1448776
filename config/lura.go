package config

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/luraproject/lura/v2/config"
)

const (
	// Namespace is the key under the Lura's "extra_config" root
	// section, for a valid config. See [config] documentation for
	// details.
	Namespace = "telemetry/http-client-metrics"
)

// ErrNoConfig is used to signal no config was found
var ErrNoConfig = errors.New("no config found for http client metrics")

// FromLura extracts the configuration from the Lura's ServiceConfig
// "extra_config" field.
//
// In case no "client" config is provided, a set of defaults with
// metrics and traces enabled will be used.
func FromLura(srvCfg config.ServiceConfig) (*ConfigData, error) {
	cfg := new(ConfigData)
	if err := decodeExtraCfg(srvCfg.ExtraConfig, cfg); err != nil {
		return nil, err
	}

	cfg.UnsetFieldsToDefaults()

	if cfg.ServiceName == "" {
		if srvCfg.Name != "" {
			cfg.ServiceName = srvCfg.Name
		} else {
			cfg.ServiceName = "KrakenD"
		}
	}
	return cfg, nil
}

// ClientOptsFromExtraCfg returns the client options overridden in an
// "extra_config" section (usually, the one of a backend). It returns
// ErrNoConfig if the section has no config for this namespace, and nil
// options if the config has no "client" override.
func ClientOptsFromExtraCfg(extraCfg config.ExtraConfig) (*ClientOpts, error) {
	cfg := new(ConfigData)
	if err := decodeExtraCfg(extraCfg, cfg); err != nil {
		return nil, err
	}
	if cfg.Client != nil {
		if err := cfg.Client.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg.Client, nil
}

func decodeExtraCfg(extraCfg config.ExtraConfig, cfg *ConfigData) error {
	tmp, ok := extraCfg[Namespace]
	if !ok {
		return ErrNoConfig
	}
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(tmp); err != nil {
		return err
	}
	return json.NewDecoder(buf).Decode(cfg)
}
