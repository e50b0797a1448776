// Package config defines the configuration to report the metrics of
// the transactions made by http clients, as well as the exporters
// used to send them.
package config

import (
	"fmt"
)

// DefaultMaxBodySize is the number of bytes captured from each body when
// the body capture is enabled without an explicit limit.
const DefaultMaxBodySize int64 = 64 * 1024

// ConfigData is the root configuration for the client metrics
type ConfigData struct {
	ServiceName           string      `json:"service_name"`
	ServiceVersion        string      `json:"service_version"`
	Client                *ClientOpts `json:"client"`
	Exporters             Exporters   `json:"exporters"`
	SkipPaths             []string    `json:"skip_paths"`
	MetricReportingPeriod *int        `json:"metric_reporting_period"`
	TraceSampleRate       *float64    `json:"trace_sample_rate"`
}

func (c *ConfigData) Validate() error {
	if err := c.Exporters.Validate(); err != nil {
		return err
	}
	if c.Client == nil {
		return nil
	}
	if err := c.Client.Validate(); err != nil {
		return err
	}
	return c.Exporters.ValidateProviders(c.Client)
}

func (c *ConfigData) UnsetFieldsToDefaults() {
	if c.MetricReportingPeriod == nil {
		reportingPeriod := 30
		c.MetricReportingPeriod = &reportingPeriod
	}
	if c.TraceSampleRate == nil {
		sampleRate := float64(1.0)
		c.TraceSampleRate = &sampleRate
	}

	if c.Client == nil {
		c.Client = &ClientOpts{}
	}

	if len(c.SkipPaths) == 0 {
		// if there are no defined skip paths, we use the default ones:
		// to avoid using defaultSkipPaths, provide a list with an empty string
		c.SkipPaths = []string{
			"/__health",
			"/__debug/",
			"/__echo/",
			"/__stats/",
		}
	}
}

type Exporters struct {
	OTLP       []OTLPExporter       `json:"otlp"`
	Prometheus []PrometheusExporter `json:"prometheus"`
}

func (e *Exporters) Validate() error {
	uniqueNames := make(map[string]bool, len(e.OTLP)+len(e.Prometheus))
	for idx, ecfg := range e.OTLP {
		if uniqueNames[ecfg.Name] {
			return fmt.Errorf("OTLP exporter with duplicate name: %s (at idx %d)", ecfg.Name, idx)
		}
		uniqueNames[ecfg.Name] = true
	}
	for idx, ecfg := range e.Prometheus {
		if uniqueNames[ecfg.Name] {
			return fmt.Errorf("prometheus with duplicate name: %s (at idx %d)", ecfg.Name, idx)
		}
		uniqueNames[ecfg.Name] = true
	}
	return nil
}

// ValidateProviders checks that the exporters selected by the client
// options exist, even when they do not report by default. Only OTLP
// exporters can be selected: a Prometheus exporter is read by a single
// meter provider, the service level one.
func (e *Exporters) ValidateProviders(o *ClientOpts) error {
	names := make(map[string]bool, len(e.OTLP))
	for _, ecfg := range e.OTLP {
		names[ecfg.Name] = true
	}
	for _, name := range o.MetricProviders {
		if !names[name] {
			return fmt.Errorf("client metric provider %q is not an OTLP exporter", name)
		}
	}
	for _, name := range o.TraceProviders {
		if !names[name] {
			return fmt.Errorf("client trace provider %q is not an OTLP exporter", name)
		}
	}
	return nil
}

type OTLPExporter struct {
	Name                        string `json:"name"`
	Host                        string `json:"host"`
	Port                        int    `json:"port"`
	UseHTTP                     bool   `json:"use_http"`
	DisableMetrics              bool   `json:"disable_metrics"`
	DisableTraces               bool   `json:"disable_traces"`
	CustomMetricReportingPeriod uint   `json:"custom_reporting_period"`
}

type PrometheusExporter struct {
	Name           string `json:"name"`
	Port           int    `json:"port"`
	Host           string `json:"host"`
	ProcessMetrics bool   `json:"process_metrics"`
	GoMetrics      bool   `json:"go_metrics"`
	DisableMetrics bool   `json:"disable_metrics"`
}

// ClientOpts defines what is reported for each transaction of an
// instrumented client.
//
// CaptureBodies adds up to MaxBodySize bytes of the request and
// response bodies to the metrics (DefaultMaxBodySize when not set).
// Responses without a Content-Length, or a bigger one, are not captured.
//
// MetricProviders and TraceProviders select by name the OTLP exporters
// for the clients using these options, instead of the service level
// ones.
// Bodies are only available to the callbacks: they are never sent
// as metric or span attributes.
type ClientOpts struct {
	DisableMetrics          bool       `json:"disable_metrics"`
	DisableTraces           bool       `json:"disable_traces"`
	ReportHeaders           bool       `json:"report_headers"`
	SemConv                 string     `json:"semantic_convention"`
	MetricsStaticAttributes Attributes `json:"metrics_static_attributes"`
	TracesStaticAttributes  Attributes `json:"traces_static_attributes"`
	CaptureBodies           bool       `json:"capture_bodies"`
	MaxBodySize             int64      `json:"max_body_size"`
	MetricProviders         []string   `json:"metric_providers"`
	TraceProviders          []string   `json:"trace_providers"`
}

// OwnProviders tells if the options select their own exporters.
func (o *ClientOpts) OwnProviders() bool {
	return o != nil && (len(o.MetricProviders) > 0 || len(o.TraceProviders) > 0)
}

// Enabled returns if either metrics or traces are enabled.
func (o *ClientOpts) Enabled() bool {
	if o == nil {
		return false
	}
	return !o.DisableMetrics || !o.DisableTraces
}

// BodyCaptureLimit returns the max number of bytes to capture from each
// body, 0 meaning bodies are not captured.
func (o *ClientOpts) BodyCaptureLimit() int64 {
	if o == nil || !o.CaptureBodies {
		return 0
	}
	if o.MaxBodySize <= 0 {
		return DefaultMaxBodySize
	}
	return o.MaxBodySize
}

var supportedSemConv = map[string]bool{
	"":     true,
	"1.27": true,
}

func (o *ClientOpts) Validate() error {
	if !supportedSemConv[o.SemConv] {
		return fmt.Errorf("unsupported semantic convention: %q", o.SemConv)
	}
	if _, err := o.MetricsStaticAttributes.ToMap(); err != nil {
		return fmt.Errorf("metrics static attributes: %w", err)
	}
	if _, err := o.TracesStaticAttributes.ToMap(); err != nil {
		return fmt.Errorf("traces static attributes: %w", err)
	}
	return nil
}

type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type Attributes []KeyValue

func (a Attributes) ToMap() (map[string]string, error) {
	var err error
	m := make(map[string]string, len(a))
	for _, attr := range a {
		if _, ok := m[attr.Key]; ok {
			err = fmt.Errorf("duplicate attribute key %q", attr.Key)
		}
		m[attr.Key] = attr.Value
	}
	return m, err
}
