package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurements written by the gateway.
const (
	MeasurementHandshake   = "gateway_handshake"
	MeasurementDenial      = "gateway_authz_denial"
	MeasurementRateLimited = "gateway_rate_limited"
	MeasurementPairing     = "gateway_pairing"
	MeasurementConnections = "gateway_connections"
)

// ObserveHandshake records a finished handshake. Tags stay low-cardinality:
// no device IDs or IPs.
func (c *Client) ObserveHandshake(outcome, authMode, code string, elapsed time.Duration) {
	tags := map[string]string{"outcome": outcome}
	if authMode != "" {
		tags["auth_mode"] = authMode
	}
	if code != "" {
		tags["code"] = code
	}
	c.write(MeasurementHandshake, tags, map[string]any{
		"duration_ms": float64(elapsed.Microseconds()) / 1000,
	})
}

// ObserveDenial records an authorization denial.
func (c *Client) ObserveDenial(method, role string) {
	c.write(MeasurementDenial,
		map[string]string{"method": method, "role": role},
		map[string]any{"count": 1})
}

// ObserveRateLimited records a limiter block.
func (c *Client) ObserveRateLimited(scope string) {
	c.write(MeasurementRateLimited,
		map[string]string{"scope": scope},
		map[string]any{"count": 1})
}

// ObservePairing records a pairing event.
func (c *Client) ObservePairing(outcome string) {
	c.write(MeasurementPairing,
		map[string]string{"outcome": outcome},
		map[string]any{"count": 1})
}

// ConnectionOpened records a session joining.
func (c *Client) ConnectionOpened() {
	c.write(MeasurementConnections, nil, map[string]any{"delta": 1})
}

// ConnectionClosed records a session leaving.
func (c *Client) ConnectionClosed() {
	c.write(MeasurementConnections, nil, map[string]any{"delta": -1})
}

func (c *Client) write(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(newPoint(measurement, tags, fields, time.Now()))
}

func newPoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time) *write.Point {
	return write.NewPoint(measurement, tags, fields, ts)
}
