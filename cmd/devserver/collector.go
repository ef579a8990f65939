package main

import (
	"github.com/HMasataka/agentws/internal/hub"
	"github.com/prometheus/client_golang/prometheus"
)

// hubCollector exports hub statistics at scrape time
type hubCollector struct {
	hub      *hub.Hub
	peers    *prometheus.Desc
	sent     *prometheus.Desc
	received *prometheus.Desc
}

func newHubCollector(h *hub.Hub) *hubCollector {
	return &hubCollector{
		hub:      h,
		peers:    prometheus.NewDesc("agentws_devserver_connected_peers", "Connected peers.", nil, nil),
		sent:     prometheus.NewDesc("agentws_devserver_messages_sent_total", "Frames sent to peers.", nil, nil),
		received: prometheus.NewDesc("agentws_devserver_messages_received_total", "Frames received from peers.", nil, nil),
	}
}

func (c *hubCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.peers
	ch <- c.sent
	ch <- c.received
}

func (c *hubCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.hub.Stats()
	ch <- prometheus.MustNewConstMetric(c.peers, prometheus.GaugeValue, float64(stats.ConnectedPeers))
	ch <- prometheus.MustNewConstMetric(c.sent, prometheus.CounterValue, float64(stats.MessagesSent))
	ch <- prometheus.MustNewConstMetric(c.received, prometheus.CounterValue, float64(stats.MessagesReceived))
}
