package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware 记录HTTP请求次数与耗时，路径使用路由模板避免标签爆炸
func Middleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
