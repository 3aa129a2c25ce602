package gateway

import "time"

// Handshake outcomes reported to Telemetry.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
)

// Pairing outcomes reported to Telemetry.
const (
	PairingRequested    = "requested"
	PairingAutoApproved = "auto-approved"
	PairingApproved     = "approved"
	PairingRejected     = "rejected"
)

// Telemetry receives gateway counters. *metrics.Metrics and *influxdb.Client
// both implement it; it also satisfies auth.DenialObserver.
type Telemetry interface {
	ObserveHandshake(outcome, authMode, code string, elapsed time.Duration)
	ObserveDenial(method, role string)
	ObserveRateLimited(scope string)
	ObservePairing(outcome string)
	ConnectionOpened()
	ConnectionClosed()
}

// MultiTelemetry fans every observation out to each member.
type MultiTelemetry []Telemetry

func (m MultiTelemetry) ObserveHandshake(outcome, authMode, code string, elapsed time.Duration) {
	for _, t := range m {
		t.ObserveHandshake(outcome, authMode, code, elapsed)
	}
}

func (m MultiTelemetry) ObserveDenial(method, role string) {
	for _, t := range m {
		t.ObserveDenial(method, role)
	}
}

func (m MultiTelemetry) ObserveRateLimited(scope string) {
	for _, t := range m {
		t.ObserveRateLimited(scope)
	}
}

func (m MultiTelemetry) ObservePairing(outcome string) {
	for _, t := range m {
		t.ObservePairing(outcome)
	}
}

func (m MultiTelemetry) ConnectionOpened() {
	for _, t := range m {
		t.ConnectionOpened()
	}
}

func (m MultiTelemetry) ConnectionClosed() {
	for _, t := range m {
		t.ConnectionClosed()
	}
}

type nopTelemetry struct{}

func (nopTelemetry) ObserveHandshake(string, string, string, time.Duration) {}
func (nopTelemetry) ObserveDenial(string, string)                           {}
func (nopTelemetry) ObserveRateLimited(string)                              {}
func (nopTelemetry) ObservePairing(string)                                  {}
func (nopTelemetry) ConnectionOpened()                                      {}
func (nopTelemetry) ConnectionClosed()                                      {}
