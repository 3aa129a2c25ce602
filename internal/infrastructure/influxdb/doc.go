// Package influxdb writes gateway security telemetry to InfluxDB v2.
//
// Prometheus (package metrics) answers "how many right now"; InfluxDB keeps
// the per-event history: every handshake outcome, authorization denial,
// limiter block and pairing event becomes a point, so operators can chart
// brute-force attempts or a misconfigured client over weeks.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry is optional
//	}
//	defer client.Close()
//
//	client.ObserveDenial("config.set", "viewer")
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking and
// batched per the batch_size and flush_interval settings; asynchronous write
// failures are delivered to the SetOnError callback.
//
// A nil *Client is valid and drops every point, so callers do not need to
// branch on whether InfluxDB is configured.
package influxdb
