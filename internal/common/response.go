package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// OK writes the success envelope used by every dashboard-facing endpoint.
func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

// Fail writes the failure envelope. code is an application error code for clients
// that want something more precise than the message.
func Fail(c *gin.Context, httpStatus int, code int, msg string) {
	c.JSON(httpStatus, gin.H{
		"success": false,
		"code":    code,
		"error":   msg,
	})
}
