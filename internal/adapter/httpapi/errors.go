package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"graphpool/internal/graphdb"
	"graphpool/internal/shared"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
	// Statement is the index of the failing statement for POST /tx
	Statement *int `json:"statement,omitempty"`
}

// StatusForKind maps an error class to an HTTP status code.
// Unclassified errors come straight from the engine and are reported as 422.
func StatusForKind(kind shared.Kind) int {
	switch kind {
	case shared.KindValidation:
		return http.StatusBadRequest
	case shared.KindTimeout:
		return http.StatusGatewayTimeout
	case shared.KindCanceled:
		return http.StatusRequestTimeout
	case shared.KindUnavailable:
		return http.StatusServiceUnavailable
	case shared.KindConflict:
		return http.StatusConflict
	case shared.KindDependencyFailure:
		return http.StatusBadGateway
	case shared.KindInvariantViolated, shared.KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

func respondError(c *gin.Context, err error) {
	kind := shared.KindOf(err)
	status := StatusForKind(kind)

	resp := ErrorResponse{
		Error:   http.StatusText(status),
		Kind:    kind.String(),
		Message: err.Error(),
		Code:    status,
	}
	var stmtErr *graphdb.StatementError
	if errors.As(err, &stmtErr) {
		idx := stmtErr.Index
		resp.Statement = &idx
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, resp)
}

func respondBadRequest(c *gin.Context, err error) {
	_ = c.Error(err).SetType(gin.ErrorTypeBind)
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Error:   "invalid request",
		Kind:    shared.KindValidation.String(),
		Message: err.Error(),
		Code:    http.StatusBadRequest,
	})
}
