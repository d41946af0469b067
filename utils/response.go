package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response is the envelope of every API reply.
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Meta 分页信息
type Meta struct {
	Count   int  `json:"count"`
	HasMore bool `json:"has_more"`
}

// RespondSuccess 返回成功响应
func RespondSuccess(c *gin.Context, data interface{}, meta interface{}) {
	c.JSON(http.StatusOK, Response{Code: http.StatusOK, Message: "success", Data: data, Meta: meta})
}

// RespondError 返回错误响应
func RespondError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, Response{Code: status, Error: msg})
}
