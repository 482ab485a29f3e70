package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics holds the Prometheus collectors for a server.
// Each server has its own registry, so several servers can run in one process.
type metrics struct {
	registry     *prometheus.Registry
	connections  *prometheus.CounterVec
	inbound      *prometheus.CounterVec
	clipsDropped prometheus.Counter
}

func newMetrics(srv *Server) *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "radiod_connections_total",
			Help: "Websocket connections by outcome.",
		}, []string{"result"}),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "radiod_messages_received_total",
			Help: "Messages received from clients by type.",
		}, []string{"type"}),
		clipsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "radiod_audio_clips_dropped_total",
			Help: "Clips dropped because a sender's audio queue was full.",
		}),
	}

	m.registry.MustRegister(
		m.connections,
		m.inbound,
		m.clipsDropped,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "radiod_sessions_active",
			Help: "Connected clients.",
		}, func() float64 { return float64(srv.ActiveSessions()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "radiod_channel_members",
			Help: "Users in a channel.",
		}, func() float64 { return float64(srv.Registry.Stats().NumMembers) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "radiod_channels_busy",
			Help: "Channels with a member transmitting.",
		}, func() float64 { return float64(srv.Registry.Stats().BusyChannels) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "radiod_transmissions_granted_total",
			Help: "Transmit slots granted.",
		}, func() float64 { return float64(srv.Registry.Stats().TransmissionsGranted) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "radiod_transmissions_rejected_total",
			Help: "Transmit requests refused because the channel was busy.",
		}, func() float64 { return float64(srv.Registry.Stats().TransmissionsRejected) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "radiod_transmission_timeouts_total",
			Help: "Transmissions released by the transmission timeout.",
		}, func() float64 { return float64(srv.Registry.Stats().TransmissionTimeouts) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "radiod_audio_clips_relayed_total",
			Help: "Clips broadcast to a channel.",
		}, func() float64 { return float64(srv.Registry.Stats().ClipsRelayed) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "radiod_deliveries_dropped_total",
			Help: "Messages that could not be queued for a channel member.",
		}, func() float64 { return float64(srv.Registry.Stats().DeliveriesDropped) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "radiod_audio_conversions_total",
			Help: "Clips converted to the canonical encoding.",
		}, func() float64 { return float64(srv.Normalizer.Stats().Conversions) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "radiod_audio_conversion_failures_total",
			Help: "Conversions that failed or timed out; those clips were relayed unconverted.",
		}, func() float64 { return float64(srv.Normalizer.Stats().Failures) }),
	)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
