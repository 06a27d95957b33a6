package handlers

import (
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tradeya/backend/internal/metrics"
	"github.com/tradeya/backend/internal/services"
	"gorm.io/gorm"
)

var registerGaugesOnce sync.Once

// RegisterRuntimeGauges exposes live SSE and connection pool figures. The
// gauges are sampled at scrape time.
func RegisterRuntimeGauges(db *gorm.DB, hub *services.SSEHub) {
	registerGaugesOnce.Do(func() {
		prometheus.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "tradeya",
				Name:      "sse_active_clients",
				Help:      "Number of active SSE connections",
			}, func() float64 { return float64(hub.ClientCount()) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "tradeya",
				Name:      "db_open_connections",
				Help:      "Number of open DB connections",
			}, func() float64 {
				sqlDB, err := db.DB()
				if err != nil {
					return 0
				}
				return float64(sqlDB.Stats().OpenConnections)
			}),
		)
	})
}

// Metrics serves the Prometheus exposition format.
func Metrics() gin.HandlerFunc {
	return gin.WrapH(metrics.Handler())
}
