package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// OwnerKey gin 上下文中保存账户 ID 的键
const OwnerKey = "owner_id"

// APIResponse 通用响应结构
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// ListResponse 列表响应
type ListResponse struct {
	Items any `json:"items"`
	Total int `json:"total"`
}

// ErrorResponse 统一错误返回结构
type ErrorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// OwnerID 当前请求的账户
func OwnerID(c *gin.Context) string {
	return c.GetString(OwnerKey)
}

// OK 返回 200 与数据
func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: data})
}

// List 返回列表
func List[T any](c *gin.Context, items []T) {
	if items == nil {
		items = []T{}
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: ListResponse{Items: items, Total: len(items)}})
}

// Fail 返回错误
func Fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{Success: false, Code: code, Message: message})
}

// BadRequest 参数错误
func BadRequest(c *gin.Context, err error) {
	Fail(c, http.StatusBadRequest, "bad_request", "请求参数错误: "+err.Error())
}

// NotFound 资源不存在
func NotFound(c *gin.Context, message string) {
	Fail(c, http.StatusNotFound, "not_found", message)
}

// Internal 服务端错误
func Internal(c *gin.Context, err error) {
	Fail(c, http.StatusInternalServerError, "internal", err.Error())
}
