package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/StergiosCha/perpatame/internal/service"
	"github.com/StergiosCha/perpatame/pkg/log"
	"github.com/StergiosCha/perpatame/pkg/response"
)

// classify maps a service error to an HTTP status, error code and a
// message safe to show to clients.
func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, response.CodeBadRequest, err.Error()
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, response.CodeNotFound, "story not found"
	case errors.Is(err, service.ErrAlreadyDecided):
		return http.StatusConflict, response.CodeAlreadyDecided, err.Error()
	case errors.Is(err, service.ErrTransformation):
		return http.StatusUnprocessableEntity, response.CodeTransformation, "the story could not be transformed"
	case errors.Is(err, service.ErrNoSpeech):
		return http.StatusBadRequest, response.CodeNoSpeech, "no speech was recognized in the recording"
	case errors.Is(err, service.ErrUnavailable):
		return http.StatusServiceUnavailable, response.CodeServiceUnavailable, "service temporarily unavailable"
	default:
		return http.StatusInternalServerError, response.CodeInternal, "internal error"
	}
}

func writeError(c *gin.Context, err error, what string) {
	status, code, msg := classify(err)

	var conflict *service.AlreadyDecidedError
	if errors.As(err, &conflict) {
		response.Conflict(c, msg, conflict.Story)
		return
	}

	l := log.Ctx(c.Request.Context())
	if status >= http.StatusInternalServerError {
		l.Error().Err(err).Msg(what)
	} else {
		l.Debug().Err(err).Msg(what)
	}
	response.Error(c, status, code, msg)
}
