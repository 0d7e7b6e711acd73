package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/luckygeck/dedalus/internal/errtaxonomy"
	"github.com/luckygeck/dedalus/pkg/api/dto"
)

// ErrorHandler recovers panics and renders any unhandled gin.Context error
// as the taxonomy error envelope (spec.md §7), grounded in the teacher's
// middleware.ErrorHandler.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				c.JSON(http.StatusInternalServerError, dto.Err(string(errtaxonomy.CodeBackendError), "internal server error"))
				c.Abort()
			}
		}()

		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err
		if te, ok := errtaxonomy.As(err); ok {
			c.JSON(te.HTTPStatus, dto.Err(string(te.Code), te.Reason))
			return
		}
		statusCode := c.Writer.Status()
		if statusCode == http.StatusOK {
			statusCode = http.StatusInternalServerError
		}
		c.JSON(statusCode, dto.Err(string(errtaxonomy.CodeBackendError), err.Error()))
	}
}

// AbortWithError aborts the request with a taxonomy error envelope.
func AbortWithError(c *gin.Context, err *errtaxonomy.TaxonomyError) {
	c.JSON(err.HTTPStatus, dto.Err(string(err.Code), err.Reason))
	c.Abort()
}
