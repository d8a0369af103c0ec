package httputil

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/clinic-booking/pkg/errors"
)

// Response wraps successful API responses
type Response struct {
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// RespondWithData sends a success envelope
func RespondWithData(c *gin.Context, status int, data interface{}, message string) {
	c.JSON(status, Response{
		Data:    data,
		Message: message,
	})
}

// RespondWithSuccess sends a 200 success envelope
func RespondWithSuccess(c *gin.Context, data interface{}) {
	RespondWithData(c, http.StatusOK, data, "")
}

// RespondWithError maps err onto the error taxonomy and writes
// {"error": message, ...details}.
func RespondWithError(c *gin.Context, err error) {
	appErr, ok := errors.As(err)
	if !ok {
		appErr = errors.Internal(err)
	}

	status := appErr.HTTPStatus()
	message := appErr.Message
	if status >= http.StatusInternalServerError {
		log.Error().
			Err(err).
			Str("request_id", c.GetString("request_id")).
			Str("path", c.Request.URL.Path).
			Msg("Request failed")
		if !ok {
			message = "Internal server error"
		}
	}

	body := gin.H{"error": message}
	for k, v := range appErr.Details {
		body[k] = v
	}
	c.AbortWithStatusJSON(status, body)
}

// RespondWithStatus aborts with a bare error envelope, for failures raised
// outside the service layer.
func RespondWithStatus(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}
