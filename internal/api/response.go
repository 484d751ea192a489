package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mycelic/cogmem/internal/storeerr"
)

// Response is the standard envelope every handler returns, grounded on
// the teacher's internal/api.Response shape (success/message/data).
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// SuccessResponse sends a 200 success envelope.
func SuccessResponse(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, &Response{Success: true, Message: message, Data: data})
}

// CreatedResponse sends a 201 success envelope.
func CreatedResponse(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusCreated, &Response{Success: true, Message: message, Data: data})
}

// ErrorResponse sends a failure envelope at the given status code.
func ErrorResponse(c *gin.Context, code int, message string) {
	c.JSON(code, &Response{Success: false, Message: message})
}

// RespondError maps a storeerr.Kind to its HTTP status and sends the
// corresponding error envelope, matching the taxonomy's propagation
// policy in spec §7 (each kind is surfaced as-is, not translated into
// another kind).
func RespondError(c *gin.Context, err error) {
	kind, ok := storeerr.KindOf(err)
	if !ok {
		ErrorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}

	switch kind {
	case storeerr.InvalidInput:
		ErrorResponse(c, http.StatusBadRequest, err.Error())
	case storeerr.NotFound:
		ErrorResponse(c, http.StatusNotFound, err.Error())
	case storeerr.DuplicateContent:
		ErrorResponse(c, http.StatusConflict, err.Error())
	case storeerr.InvalidTierTransition:
		ErrorResponse(c, http.StatusConflict, err.Error())
	case storeerr.StorageExhausted:
		ErrorResponse(c, http.StatusInsufficientStorage, err.Error())
	case storeerr.Transient:
		c.Header("Retry-After", "1")
		ErrorResponse(c, http.StatusServiceUnavailable, err.Error())
	case storeerr.Fatal:
		ErrorResponse(c, http.StatusInternalServerError, err.Error())
	default:
		ErrorResponse(c, http.StatusInternalServerError, err.Error())
	}
}
