package server

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jaewoo-rain/webide/pkg/errs"
	"github.com/jaewoo-rain/webide/pkg/metadata"
)

// replyError maps an error to an HTTP response. Metadata 4xx responses pass
// through verbatim; everything else is keyed off the error kind.
func (s *Server) replyError(c *gin.Context, err error) {
	var se *metadata.StatusError
	if stderrors.As(err, &se) {
		c.String(se.Code, se.Body)
		return
	}

	status := statusOf(errs.KindOf(err))
	if status == http.StatusInternalServerError {
		s.Log.WithError(err).Error("request failed")
	}
	c.JSON(status, gin.H{"detail": err.Error()})
}

func statusOf(kind errs.Kind) int {
	switch kind {
	case errs.KindMissingCredential, errs.KindInvalid, errs.KindExpired:
		return http.StatusUnauthorized
	case errs.KindForbidden:
		return http.StatusForbidden
	case errs.KindNotFound, errs.KindAmbiguous, errs.KindNoEntry:
		return http.StatusNotFound
	case errs.KindConflict, errs.KindNoExternalPort, errs.KindPortInUse, errs.KindNameInUse:
		return http.StatusConflict
	case errs.KindQuotaExceeded:
		return http.StatusTooManyRequests
	case errs.KindExhausted, errs.KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case errs.KindNoSession, errs.KindBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
