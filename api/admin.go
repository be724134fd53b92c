package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/0m3kk/library/errs"
	"github.com/0m3kk/library/logging"
)

type logLevelRequest struct {
	Level string `json:"level" binding:"required"`
}

func getLogLevel(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"level": logging.Level().String()})
}

// setLogLevel changes the process log level at runtime.
func setLogLevel(c *gin.Context) {
	var req logLevelRequest
	if !bind(c, &req) {
		return
	}
	if err := logging.SetLevel(req.Level); err != nil {
		_ = c.Error(errs.Conflict("invalid log level %q", req.Level))
		return
	}
	slog.InfoContext(c.Request.Context(), "Log level changed", "level", logging.Level().String())
	c.JSON(http.StatusOK, gin.H{"level": logging.Level().String()})
}
