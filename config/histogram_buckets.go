package config

import (
	"go.opentelemetry.io/otel/metric"
)

var (
	// TimeBucketsOpt are the boundaries, in seconds, of the response
	// time histograms.
	TimeBucketsOpt = metric.WithExplicitBucketBoundaries(
		0.010, 0.020, 0.050, 0.075,
		0.100, 0.125, 0.150, 0.175,
		0.200, 0.250, 0.300, 0.350,
		0.500, 0.750, 1.000, 1.500,
		2.000, 3.500, 5.000, 10.000)

	// SizeBucketsOpt are the boundaries, in bytes, of the request and
	// response size histograms.
	SizeBucketsOpt = metric.WithExplicitBucketBoundaries(
		128, 256, 512, 1024,
		4*1024, 8*1024, 16*1024, 32*1024,
		64*1024, 4*64*1024, 8*64*1024, 16*64*1024, // 64k to 1 Meg
		4*1024*1024, 16*1024*1024, 64*1024*1024,
	)
)
