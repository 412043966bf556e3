package handler

import (
	"errors"
	"fmt"
	"strings"

	"farmai/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

func respond(c *gin.Context, status int, data any, message string) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
		"message": message,
	})
}

func fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"success": false,
		"message": message,
		"code":    code,
	})
}

// badRequest reports the first field that failed binding.
func badRequest(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
		msg := fmt.Sprintf("%s is invalid", field)
		if fe.Tag() == "required" {
			msg = fmt.Sprintf("%s is required", field)
		}
		fail(c, 400, domain.CodeValidation, msg)
		return
	}
	fail(c, 400, domain.CodeValidation, "invalid request body")
}
