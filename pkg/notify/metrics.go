package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	kindText  = "text"
	kindPhoto = "photo"
)

var metricDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "portalcap",
	Name:      "notify_deliveries_total",
	Help:      "Telegram deliveries by kind (text, photo) and result (ok, failed).",
}, []string{"kind", "result"})

func recordDelivery(kind string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	metricDeliveries.WithLabelValues(kind, result).Inc()
}
