package proxy

import "expvar"

// Relay counters, published under "koziky_relay" at /debug/vars.
const (
	metricChats     = "chat_requests"
	metricImages    = "image_requests"
	metricFailures  = "upstream_failures"
	metricStreamErr = "stream_errors"
	metricChunks    = "chunks_relayed"
)

var metrics = expvar.NewMap("koziky_relay")

func count(name string) {
	metrics.Add(name, 1)
}
