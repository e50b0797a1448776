package httpmetrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	lconfig "github.com/luraproject/lura/v2/config"
	"github.com/luraproject/lura/v2/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/krakend/krakend-httpmetrics/config"
	"github.com/krakend/krakend-httpmetrics/state"
)

type meterOnlyOTEL struct {
	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider
}

func newMeterOnlyOTEL() *meterOnlyOTEL {
	reader := sdkmetric.NewManualReader()
	return &meterOnlyOTEL{
		reader:   reader,
		provider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	}
}

func (*meterOnlyOTEL) Tracer() trace.Tracer { return nooptrace.NewTracerProvider().Tracer("") }
func (o *meterOnlyOTEL) Meter() metric.Meter { return o.provider.Meter("test") }
func (*meterOnlyOTEL) Propagator() propagation.TextMapPropagator { return nil }
func (*meterOnlyOTEL) Shutdown(_ context.Context) {}
func (o *meterOnlyOTEL) MeterProvider() metric.MeterProvider { return o.provider }
func (*meterOnlyOTEL) TracerProvider() trace.TracerProvider { return nooptrace.NewTracerProvider() }

func TestRegister(t *testing.T) {
	cfg := lconfig.ServiceConfig{
		Name: "test-gateway",
		ExtraConfig: map[string]interface{}{
			config.Namespace: map[string]interface{}{
				"metric_reporting_period": 4,
				"trace_sample_rate":       0.5,
				"client": map[string]interface{}{
					"report_headers": true,
				},
				"exporters": map[string]interface{}{},
			},
		},
	}

	shutdownFn, err := Register(context.Background(), logging.NoOp, cfg)
	require.NoError(t, err)
	defer shutdownFn()

	require.NotNil(t, state.GlobalState())
	require.NotNil(t, state.GlobalConfig())
	assert.True(t, state.GlobalConfig().ClientOpts().ReportHeaders)
}

func TestRegisterNoConfig(t *testing.T) {
	shutdownFn, err := Register(context.Background(), logging.NoOp, lconfig.ServiceConfig{})
	require.NoError(t, err)
	shutdownFn()
}

func TestRegisterInvalidConfig(t *testing.T) {
	_, err := RegisterWithConfig(context.Background(), logging.NoOp, &config.ConfigData{
		Client: &config.ClientOpts{SemConv: "unknown"},
	})
	assert.Error(t, err)
}

func TestNewHTTPClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("[]"))
	}))
	defer server.Close()

	o := newMeterOnlyOTEL()
	getState := func() state.OTEL { return o }
	c := NewHTTPClient(server.Client(), &config.ClientOpts{DisableTraces: true}, "items", getState)
	require.NotSame(t, server.Client(), c)

	resp, err := c.Get(server.URL + "/items")
	require.NoError(t, err)
	resp.Body.Close()

	var rm metricdata.ResourceMetrics
	require.NoError(t, o.reader.Collect(context.Background(), &rm))
	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	assert.True(t, names["http.client.request.started.count"])
	assert.True(t, names["http.client.duration"])
}

func TestNewHTTPClientDisabled(t *testing.T) {
	c := &http.Client{}
	o := newMeterOnlyOTEL()
	got := NewHTTPClient(c, &config.ClientOpts{DisableMetrics: true, DisableTraces: true}, "items",
		func() state.OTEL { return o })
	assert.Same(t, c, got)

	// without state there is nothing to report to
	got = NewHTTPClient(c, &config.ClientOpts{}, "items", func() state.OTEL { return nil })
	assert.Same(t, c, got)
}
