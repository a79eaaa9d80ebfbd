package metrics

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	InboundMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labbridge_inbound_messages_total",
			Help: "Inbound integration messages by protocol and outcome.",
		},
		[]string{"protocol", "outcome"},
	)
	OutboundDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labbridge_outbound_deliveries_total",
			Help: "Outbound deliveries by kind and status.",
		},
		[]string{"kind", "status"},
	)
)

func init() {
	prometheus.MustRegister(InboundMessages, OutboundDeliveries)
}

// RegisterRoutes exposes the Prometheus scrape endpoint.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}
