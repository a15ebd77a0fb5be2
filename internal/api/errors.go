package api

import (
	"net/http"

	"crypto-market/internal/engine"

	"github.com/gin-gonic/gin"
)

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// statusFor maps an engine error kind to its HTTP status and error code.
func statusFor(kind engine.Kind) (int, string) {
	switch kind {
	case engine.KindValidation:
		return http.StatusBadRequest, "INVALID_REQUEST"
	case engine.KindConflict:
		return http.StatusConflict, "CONFLICT"
	case engine.KindNotFound:
		return http.StatusNotFound, "NOT_FOUND"
	case engine.KindStaleQuote:
		return http.StatusBadRequest, "STALE_QUOTE"
	case engine.KindInsufficientFunds:
		return http.StatusBadRequest, "INSUFFICIENT_FUNDS"
	case engine.KindInsufficientHoldings:
		return http.StatusBadRequest, "INSUFFICIENT_HOLDINGS"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// respondEngineError writes err using the engine error taxonomy. Storage
// failures are logged and reported without their details.
func (s *Server) respondEngineError(c *gin.Context, err error) {
	kind := engine.KindOf(err)
	status, code := statusFor(kind)
	if !engine.IsBusiness(err) {
		s.Log.WithError(err).WithField("path", c.Request.URL.Path).Error("engine call failed")
		respondError(c, status, code, "internal error")
		return
	}
	respondError(c, status, code, err.Error())
}
