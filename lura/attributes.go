package lura

import (
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/luraproject/lura/v2/config"

	kotelconfig "github.com/krakend/krakend-httpmetrics/config"
)

// backendConfigAttributes returns a list of attributes
// that will be set for both traces and
// metrics, as those are expected to have low cardinality
//   - the method: one of the `GET`, `POST`, `PUT` .. etc
//   - the "path" , that is actually the path "template" to not have different values
//     for different params but the same endpoint.
//   - server address: the host for the request
func backendConfigAttributes(cfg *config.Backend) []attribute.KeyValue {
	urlPattern := kotelconfig.NormalizeURLPattern(cfg.URLPattern)
	parentEndpoint := kotelconfig.NormalizeURLPattern(cfg.ParentEndpoint)

	attrs := []attribute.KeyValue{
		semconv.HTTPRoute(urlPattern),
		attribute.String("krakend.endpoint", parentEndpoint),
		attribute.String("krakend.endpoint_method", cfg.ParentEndpointMethod),
	}
	if len(cfg.Host) > 0 {
		attrs = append(attrs, attribute.String("krakend.backend.hosts", backendHosts(cfg.Host)))
	}
	return attrs
}

// backendHosts joins the sorted list of hosts of a backend.
func backendHosts(hosts []string) string {
	if len(hosts) == 1 {
		return hosts[0]
	}
	sorted := make([]string, len(hosts))
	copy(sorted, hosts)
	sort.Strings(sorted)
	return strings.Join(sorted, "_")
}
