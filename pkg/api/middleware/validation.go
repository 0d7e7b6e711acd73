package middleware

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/luckygeck/dedalus/internal/errtaxonomy"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// ValidateRequest validates a request struct against its `validate` tags.
func ValidateRequest(obj interface{}) error {
	return validate.Struct(obj)
}

// ValidationErrorResponse converts validator errors into one human-readable
// reason string, grounded in the teacher's validation.go field-by-field
// message table.
func ValidationErrorResponse(err error) string {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}

	var reasons []string
	for _, fe := range validationErrors {
		var msg string
		switch fe.Tag() {
		case "required":
			msg = fmt.Sprintf("%s is required", fe.Field())
		case "min":
			msg = fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
		case "max":
			msg = fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
		case "oneof":
			msg = fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
		default:
			msg = fmt.Sprintf("%s failed validation: %s", fe.Field(), fe.Tag())
		}
		reasons = append(reasons, msg)
	}
	return strings.Join(reasons, "; ")
}

// BindAndValidate binds the request body into obj and validates it,
// responding with an app_error envelope and returning false on failure.
func BindAndValidate(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		AbortWithError(c, errtaxonomy.AppError("invalid request body: "+err.Error(), err))
		return false
	}
	if err := ValidateRequest(obj); err != nil {
		AbortWithError(c, errtaxonomy.AppError(ValidationErrorResponse(err), err))
		return false
	}
	return true
}
