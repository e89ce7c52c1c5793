package middleware

import (
	"sync"

	"github.com/gin-gonic/gin"
	ginprometheus "github.com/zsais/go-gin-prometheus"
)

var (
	monitorOnce sync.Once
	monitor     *ginprometheus.Prometheus
)

// Metrics instruments every request and serves /metrics from the default
// Prometheus registry. The collectors are shared by all engines.
func Metrics(engine *gin.Engine) {
	monitorOnce.Do(func() {
		monitor = ginprometheus.NewPrometheus("gin")
		// label by route, not raw path, so gids do not explode cardinality
		monitor.ReqCntURLLabelMappingFn = func(c *gin.Context) string {
			if route := c.FullPath(); route != "" {
				return route
			}
			return "unmatched"
		}
	})
	monitor.Use(engine)
}
