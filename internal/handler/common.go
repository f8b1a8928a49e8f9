package handlers

import (
	stderrors "errors"
	"io"
	"time"

	"SafeHaven/internal/policy"
	"SafeHaven/pkg/errors"
	"SafeHaven/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"
)

// bindOptionalJSON 允许空请求体
func bindOptionalJSON(c *gin.Context, obj any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(obj); err != nil && !stderrors.Is(err, io.EOF) {
		response.Error(c, errors.Validation("invalid request body"))
		return false
	}
	return true
}

func queryInt(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	v, err := cast.ToIntE(raw)
	if err != nil {
		response.Error(c, errors.Validation(key+" must be an integer").WithContext("field", key))
		return 0, false
	}
	return v, true
}

func queryFloat(c *gin.Context, key string) (float64, bool, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, false, true
	}
	v, err := cast.ToFloat64E(raw)
	if err != nil {
		response.Error(c, errors.Validation(key+" must be a number").WithContext("field", key))
		return 0, false, false
	}
	return v, true, true
}

func queryTime(c *gin.Context, key string) (time.Time, bool) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		response.Error(c, errors.Validation(key+" must be an RFC3339 timestamp").WithContext("field", key))
		return time.Time{}, false
	}
	return t, true
}

// requireRole 最低角色要求
func (h *Handlers) requireRole(min policy.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !identity(c).Role.AtLeast(min) {
			response.Error(c, errors.Authorization("insufficient role"))
			return
		}
		c.Next()
	}
}
