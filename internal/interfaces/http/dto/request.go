// Package dto 提供 HTTP 层数据传输对象
package dto

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// JobIDRequest 任务 ID 请求
type JobIDRequest struct {
	JobID string `uri:"jid" binding:"required,uuid"`
}

// BindJobID 从 URI 绑定并校验任务 ID，非法 ID 直接返回 400
func BindJobID(c *gin.Context) (string, bool) {
	var req JobIDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		BadRequest(c, "invalid job id: must be a UUID")
		return "", false
	}
	return req.JobID, true
}

// parseIntWithDefault 解析整数，失败时返回默认值
func parseIntWithDefault(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

// BindLimit 从查询参数绑定列表上限
func BindLimit(c *gin.Context, defaultVal, max int) int {
	limit := parseIntWithDefault(c.Query("limit"), defaultVal)
	if limit < 1 {
		limit = defaultVal
	}
	if limit > max {
		limit = max
	}
	return limit
}

// BindPage 从查询参数绑定页码，最小为 1
func BindPage(c *gin.Context) int {
	page := parseIntWithDefault(c.Query("page"), 1)
	if page < 1 {
		page = 1
	}
	return page
}
