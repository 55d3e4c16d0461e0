package client

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/VasilyKirillov/smbjclient/smb2"
)

// Metrics holds the Prometheus collectors of a Client. A nil *Metrics
// disables collection.
type Metrics struct {
	// RequestsTotal counts requests sent, by command
	RequestsTotal *prometheus.CounterVec

	// ResponsesTotal counts final responses, by status name
	ResponsesTotal *prometheus.CounterVec

	BytesRead    prometheus.Counter
	BytesWritten prometheus.Counter

	// CreditsAvailable is the credit balance not charged to any request
	CreditsAvailable prometheus.Gauge

	PendingRequests prometheus.Gauge
}

// NewMetrics creates the client metrics and registers them with reg.
// Panics if registration fails.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smbclient_requests_total",
				Help: "Total SMB2 requests sent by command",
			},
			[]string{"command"},
		),
		ResponsesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smbclient_responses_total",
				Help: "Total SMB2 final responses received by status",
			},
			[]string{"status"},
		),
		BytesRead: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "smbclient_bytes_read_total",
				Help: "File data bytes read from the server",
			},
		),
		BytesWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "smbclient_bytes_written_total",
				Help: "File data bytes written to the server",
			},
		),
		CreditsAvailable: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "smbclient_credits_available",
				Help: "Credits granted by the server and not charged to a pending request",
			},
		),
		PendingRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "smbclient_pending_requests",
				Help: "Requests waiting for their final response",
			},
		),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.ResponsesTotal,
		m.BytesRead,
		m.BytesWritten,
		m.CreditsAvailable,
		m.PendingRequests,
	)

	return m
}

func (m *Metrics) recordRequest(command uint16) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(smb2.CommandName(command)).Inc()
}

func (m *Metrics) recordResponse(status uint32) {
	if m == nil {
		return
	}
	m.ResponsesTotal.WithLabelValues(smb2.Status(status).Error()).Inc()
}

func (m *Metrics) addRead(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesRead.Add(float64(n))
}

func (m *Metrics) addWritten(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesWritten.Add(float64(n))
}

func (m *Metrics) setCredits(n uint32) {
	if m == nil {
		return
	}
	m.CreditsAvailable.Set(float64(n))
}

func (m *Metrics) setPending(n int) {
	if m == nil {
		return
	}
	m.PendingRequests.Set(float64(n))
}
