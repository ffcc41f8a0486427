package httpapi

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"matchpicks/internal/apperr"
)

type fixtureParam struct {
	FixtureID int64 `uri:"fixtureId" validate:"required,gt=0"`
}

type historyQuery struct {
	Username string `form:"username" validate:"omitempty,max=64"`
	Limit    int    `form:"limit" validate:"omitempty,min=1,max=500"`
}

// bindURI binds path parameters into out and validates them.
func bindURI(c *gin.Context, out any, v *validatorv10.Validate) error {
	if err := c.ShouldBindUri(out); err != nil {
		return apperr.Invalid("path", err.Error())
	}
	return validateStruct(out, v)
}

// bindQuery binds query parameters into out and validates them.
func bindQuery(c *gin.Context, out any, v *validatorv10.Validate) error {
	if err := c.ShouldBindQuery(out); err != nil {
		return apperr.Invalid("query", err.Error())
	}
	return validateStruct(out, v)
}

func validateStruct(out any, v *validatorv10.Validate) error {
	err := v.Struct(out)
	if err == nil {
		return nil
	}
	var ve validatorv10.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		fe := ve[0]
		reason := "failed " + fe.Tag()
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		return apperr.Invalid(lowerFirst(fe.Field()), reason)
	}
	return apperr.Invalid("", err.Error())
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
