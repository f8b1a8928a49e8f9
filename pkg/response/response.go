package response

import (
	"net/http"

	"SafeHaven/pkg/errors"
	"SafeHaven/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Body 统一响应结构
type Body struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

type ErrorBody struct {
	Kind    errors.Kind `json:"kind"`
	Message string      `json:"message"`
}

// Success 200
func Success(c *gin.Context, msg string, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Message: msg, Data: data})
}

// Created 201
func Created(c *gin.Context, msg string, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Message: msg, Data: data})
}

// Error 按错误类型输出状态码；内部错误不向客户端暴露细节
func Error(c *gin.Context, err error) {
	kind := errors.KindOf(err)
	status := errors.HTTPStatus(kind)
	msg := errors.GetMessage(err)
	if kind == errors.KindInternal {
		logger.Error("unhandled error",
			zap.Error(err),
			zap.String("path", c.Request.URL.Path),
			zap.String("stack", errors.GetStack(err)))
		msg = "internal server error"
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, Body{
		Success: false,
		Message: msg,
		Error:   &ErrorBody{Kind: kind, Message: msg},
	})
}
