package state

import (
	"context"
	"strings"
	"sync"

	luraconfig "github.com/luraproject/lura/v2/config"

	"github.com/krakend/krakend-httpmetrics/config"
)

// Config gives access to the OTEL instance and the client options to
// use for each instrumented client.
type Config interface {
	OTEL() OTEL
	// ClientOpts gets the configuration at the service level.
	ClientOpts() *config.ClientOpts

	// BackendOTEL gets the OTEL instance for the client of a backend.
	BackendOTEL(cfg *luraconfig.Backend) OTEL
	// BackendClientOpts gets the options for the client of a backend:
	// the backend override, or the service level ones.
	BackendClientOpts(cfg *luraconfig.Backend) *config.ClientOpts

	// SkipEndpoint tells if an endpoint should not be instrumented
	SkipEndpoint(endpoint string) bool
}

var _ Config = (*StateConfig)(nil)

type StateConfig struct {
	cfgData config.ConfigData

	mu            sync.Mutex
	backendStates map[string]*OTELState
}

func (*StateConfig) OTEL() OTEL {
	return GlobalState()
}

func (s *StateConfig) ClientOpts() *config.ClientOpts {
	if s == nil || s.cfgData.Client == nil {
		return new(config.ClientOpts)
	}
	return s.cfgData.Client
}

// BackendOTEL returns the global state, unless the client options of the
// backend select their own exporters. In that case it returns a state
// reporting to those exporters, created once for each selection. A
// selection that cannot be resolved gets the global state.
func (s *StateConfig) BackendOTEL(cfg *luraconfig.Backend) OTEL {
	opts := s.BackendClientOpts(cfg)
	if !opts.OwnProviders() {
		return GlobalState()
	}
	key := strings.Join(opts.MetricProviders, ",") + "|" + strings.Join(opts.TraceProviders, ",")

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.backendStates[key]; ok {
		return st
	}
	st, err := NewWithGlobalExporters(s.cfgData.ServiceName, &OTELStateConfig{
		MetricProviders:       opts.MetricProviders,
		TraceProviders:        opts.TraceProviders,
		MetricReportingPeriod: *s.cfgData.MetricReportingPeriod,
		TraceSampleRate:       *s.cfgData.TraceSampleRate,
	}, s.cfgData.ServiceVersion)
	if err != nil {
		return GlobalState()
	}
	if s.backendStates == nil {
		s.backendStates = make(map[string]*OTELState)
	}
	s.backendStates[key] = st
	return st
}

// Shutdown flushes and stops the states created for the backends.
func (s *StateConfig) Shutdown(ctx context.Context) {
	s.mu.Lock()
	states := s.backendStates
	s.backendStates = nil
	s.mu.Unlock()
	for _, st := range states {
		st.Shutdown(ctx)
	}
}

// BackendClientOpts checks if there is an override for the client
// options at the backend level, that fully replaces (it DOES NOT MERGE
// attributes) the service level configuration.
func (s *StateConfig) BackendClientOpts(cfg *luraconfig.Backend) *config.ClientOpts {
	if cfg != nil {
		opts, err := config.ClientOptsFromExtraCfg(cfg.ExtraConfig)
		if err == nil && opts != nil {
			return opts
		}
	}
	return s.ClientOpts()
}

func (s *StateConfig) SkipEndpoint(endpoint string) bool {
	for _, toSkip := range s.cfgData.SkipPaths {
		if toSkip == endpoint {
			return true
		}
	}
	return false
}

func NewConfig(cfgData *config.ConfigData) *StateConfig {
	s := &StateConfig{
		cfgData: *cfgData,
	}
	s.cfgData.UnsetFieldsToDefaults()
	return s
}
