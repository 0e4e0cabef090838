package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/psds-microservice/attention-service/internal/errs"
	"github.com/psds-microservice/attention-service/internal/model"
)

// statusOf maps domain errors to an HTTP status and a short machine code.
func statusOf(err error) (int, string) {
	var verr *errs.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, model.ErrorCodeInvalidRequest
	case errors.Is(err, errs.ErrClassroomNotFound), errors.Is(err, errs.ErrSessionNotFound):
		return http.StatusNotFound, model.ErrorCodeNotFound
	case errors.Is(err, errs.ErrClassroomEnded):
		return http.StatusGone, model.ErrorCodeClassroomEnded
	case errors.Is(err, errs.ErrNotAMember):
		return http.StatusConflict, model.ErrorCodeRejoinRequired
	case errors.Is(err, errs.ErrNotOwner):
		return http.StatusForbidden, model.ErrorCodeForbidden
	case errors.Is(err, errs.ErrDuplicate):
		return http.StatusConflict, model.ErrorCodeDuplicate
	default:
		return http.StatusInternalServerError, model.ErrorCodeInternal
	}
}

// userMessage is the text shown to clients; internal failures are not echoed.
func userMessage(err error, status int) string {
	if status >= http.StatusInternalServerError {
		if errs.IsStorage(err) {
			return "storage unavailable, try again later"
		}
		return "internal error"
	}
	var verr *errs.ValidationError
	if errors.As(err, &verr) {
		return verr.Message
	}
	return err.Error()
}

func writeError(c *gin.Context, log *zap.Logger, err error) {
	status, code := statusOf(err)
	body := gin.H{"success": false, "error": userMessage(err, status), "code": code}
	var verr *errs.ValidationError
	if errors.As(err, &verr) && len(verr.Fields) > 0 {
		body["fields"] = verr.Fields
	}
	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request", "code": model.ErrorCodeInvalidRequest, "message": err.Error()})
}
