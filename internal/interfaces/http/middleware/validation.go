package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/erp/ingest/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// SetupValidator makes field errors carry the wire name (json tag, then
// form tag) instead of the Go field name. Safe to call more than once.
func SetupValidator() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "form", "uri"} {
			name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
			switch name {
			case "-":
				return ""
			case "":
				continue
			default:
				return name
			}
		}
		return f.Name
	})
}

// HandleValidationError writes the 400 envelope for a failed ShouldBind*.
func HandleValidationError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, validationResponse(err, GetRequestID(c)))
}

func validationResponse(err error, requestID string) dto.Response {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		details := make([]dto.ValidationDetail, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			details = append(details, dto.ValidationDetail{Field: fe.Field(), Message: fieldMessage(fe)})
		}
		return dto.NewValidationErrorResponse("Request validation failed", requestID, details)
	}

	// form/query binding fails before validation when a number does not parse
	var numErr *strconv.NumError
	if errors.As(err, &numErr) {
		return dto.NewValidationErrorResponse("Request validation failed", requestID, []dto.ValidationDetail{
			{Message: fmt.Sprintf("%q is not a valid number", numErr.Num)},
		})
	}
	return dto.NewErrorResponse(dto.ErrCodeInvalidJSON, "Malformed request body", requestID)
}

func fieldMessage(fe validator.FieldError) string {
	p := fe.Param()
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "gt":
		return "Must be greater than " + p
	case "min", "max":
		bound := "at least"
		if fe.Tag() == "max" {
			bound = "at most"
		}
		switch fe.Kind() {
		case reflect.String:
			return fmt.Sprintf("Must be %s %s characters", bound, p)
		case reflect.Slice, reflect.Map:
			return fmt.Sprintf("Must contain %s %s items", bound, p)
		}
		return fmt.Sprintf("Must be %s %s", bound, p)
	case "uuid":
		return "Invalid UUID format"
	case "oneof":
		return "Must be one of: " + strings.ReplaceAll(p, " ", ", ")
	}
	return "Invalid value"
}
