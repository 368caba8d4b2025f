package validate

import (
	"errors"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	setupOnce sync.Once
	engine    *govalidator.Validate
	trans     ut.Translator
)

// Error is a failed validation with one human-readable message per field,
// keyed by the field's JSON name.
type Error struct {
	Fields map[string]string
}

func (e *Error) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, e.Fields[k])
	}
	return strings.Join(parts, "; ")
}

func setup() {
	engine = govalidator.New(govalidator.WithRequiredStructEnabled())
	// Use JSON tag name for field names in error messages.
	engine.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	trans, _ = uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(engine, trans)
}

// Struct validates s against its `validate` tags. It returns nil or an *Error.
func Struct(s any) error {
	setupOnce.Do(setup)
	err := engine.Struct(s)
	if err == nil {
		return nil
	}
	var ve govalidator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		fields[fe.Field()] = fe.Translate(trans)
	}
	return &Error{Fields: fields}
}
