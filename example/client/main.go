/*
Cli sends a few requests with an instrumented http client and prints the
metrics of each transaction.

Usage:

	cli [flags] url...

The flags are:

	-l [level]
	    The logging level

	-b [max_bytes]
	    To capture up to max_bytes of the request and response bodies
*/
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/luraproject/lura/v2/logging"

	clienthttp "github.com/krakend/krakend-httpmetrics/http/client"
	"github.com/krakend/krakend-httpmetrics/metric"
)

func main() {
	logLevel := flag.String("l", "ERROR", "Logging level")
	bodyCapture := flag.Int64("b", 0, "Max bytes of the bodies to capture")
	flag.Parse()

	logger, _ := logging.NewLogger(*logLevel, os.Stdout, "[CLI]")

	c, r := clienthttp.InstrumentedHTTPClient(&http.Client{Timeout: 10 * time.Second},
		clienthttp.Callbacks{
			Request: func(m metric.RequestMetric, _ *http.Request) {
				fmt.Printf("--> %s %s %s\n", m.ID, m.Method, m.URL)
			},
			Response: func(m metric.ResponseMetric, _ *http.Response) {
				fmt.Printf("<-- %s %d %s (%s)\n", m.Request.ID, m.Response.StatusCode,
					m.Response.StatusMessage, m.ResponseTime)
				if m.Response.Body != nil {
					fmt.Printf("    %v\n", m.Response.Body)
				}
			},
			Error: func(m metric.ErrorMetric, err error) {
				id := "-"
				if m.Correlated() {
					id = m.Request.ID
				}
				fmt.Printf("<!! %s %s %s: %s (%s)\n", id, m.Method, m.URL, err.Error(), m.ResponseTime)
			},
		},
		clienthttp.WithLogger(logger),
		clienthttp.WithBodyCapture(*bodyCapture),
		clienthttp.WithName("cli"))

	for _, u := range flag.Args() {
		resp, err := c.Get(u)
		if err != nil {
			continue
		}
		resp.Body.Close()
	}

	s := r.Stats()
	fmt.Printf("requests: %d responses: %d errors: %d (degraded: %d)\n",
		s.Requests, s.Responses, s.CorrelatedErrors+s.DegradedErrors, s.DegradedErrors)
}
