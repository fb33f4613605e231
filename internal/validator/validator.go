// Package validator wires go-playground/validator into Gin with English messages
// keyed by JSON field name.
package validator

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	setupOnce sync.Once
	trans     ut.Translator
	// validate is Gin's engine, shared with payloads that do not arrive over HTTP.
	validate *govalidator.Validate
)

// customRule is a tag registered on top of the built-ins.
type customRule struct {
	tag     string
	message string
	fn      govalidator.Func
}

var customRules = []customRule{
	{
		tag:     "severity",
		message: "{0} must be one of low, medium, high, critical",
		fn: func(fl govalidator.FieldLevel) bool {
			switch fl.Field().String() {
			case "low", "medium", "high", "critical":
				return true
			}
			return false
		},
	},
}

// Setup registers JSON field names, English translations and the custom rules on
// Gin's binding engine. Safe to call more than once.
func Setup() {
	setupOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*govalidator.Validate)
		if !ok {
			return
		}
		validate = v

		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})

		enLocale := en.New()
		trans, _ = ut.New(enLocale, enLocale).GetTranslator("en")
		_ = en_translations.RegisterDefaultTranslations(v, trans)

		for _, r := range customRules {
			_ = v.RegisterValidation(r.tag, r.fn)
			_ = v.RegisterTranslation(r.tag, trans,
				func(t ut.Translator) error { return t.Add(r.tag, r.message, true) },
				func(t ut.Translator, fe govalidator.FieldError) string {
					msg, _ := t.T(fe.Tag(), fe.Field())
					return msg
				},
			)
		}
	})
}

// TranslateErrors maps each failing field to a readable message. Errors that are
// not validation errors, such as malformed JSON, come back under "detail".
func TranslateErrors(err error) map[string]string {
	var ve govalidator.ValidationErrors
	if !errors.As(err, &ve) {
		return map[string]string{"detail": err.Error()}
	}
	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		fields[fe.Field()] = fe.Translate(trans)
	}
	return fields
}

// Bind decodes and validates the JSON body into dst. It returns nil on success.
func Bind(c *gin.Context, dst any) map[string]string {
	if err := c.ShouldBindJSON(dst); err != nil {
		return TranslateErrors(err)
	}
	return nil
}

// Struct validates v against its binding tags, for messages that do not pass
// through Gin such as WebSocket frames. It returns nil when v is valid.
func Struct(v any) map[string]string {
	Setup()
	if validate == nil {
		return nil
	}
	if err := validate.Struct(v); err != nil {
		return TranslateErrors(err)
	}
	return nil
}
