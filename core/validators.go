package core

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var (
	// custom validation tags & texts
	alphaNumUnderTag   = "alphanum_"
	alphaNumUnderText  = "only alphanumeric characters and underscores are allowed"
	alphaNumUnderRegex = regexp.MustCompile(`^[\w\s]+$`)

	notBlankTag  = "notblank"
	notBlankText = "this field cannot be blank"

	validEnumTag  = "enum"
	validEnumText = "invalid value"

	requiredTag     = "required"
	requiredWithTag = "required_with"
	requiredText    = "this field is required"
)

// Enum is implemented by enumerated types (weekdays, statuses..) that can check their own value.
type Enum interface {
	IsValid() bool
}

// NewTranslator returns the english translator used for validation errors.
func NewTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

// NewValidate returns a validator with all the app's global validators registered.
func NewValidate(translator ut.Translator) *validator.Validate {
	validate := validator.New()
	InitValidators(validate, translator)
	return validate
}

// InitValidators instantiates the validator for use.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// validate dates & money amounts as their underlying values,
	// so that `required`, `gt`, `lte`... tags apply to them.
	validate.RegisterCustomTypeFunc(dateTypeFunc, Date{}, NullDate{})
	validate.RegisterCustomTypeFunc(decimalTypeFunc, decimal.Decimal{})

	// register custom validators
	_ = validate.RegisterValidation(alphaNumUnderTag, alphaNumUnderValidation)
	RegisterCustomTranslation(validate, translator, alphaNumUnderTag, alphaNumUnderText)

	_ = validate.RegisterValidation(notBlankTag, notBlankValidation)
	RegisterCustomTranslation(validate, translator, notBlankTag, notBlankText)

	_ = validate.RegisterValidation(validEnumTag, enumValidation)
	RegisterCustomTranslation(validate, translator, validEnumTag, validEnumText)

	RegisterCustomTranslation(validate, translator, requiredTag, requiredText, true)
	RegisterCustomTranslation(validate, translator, requiredWithTag, requiredText, true)
}

// RegisterCustomTranslation registers a custom translation for the specified validation tag.
func RegisterCustomTranslation(validate *validator.Validate, translator ut.Translator, tag, text string, override ...bool) {
	var ovrd bool
	if len(override) > 0 {
		ovrd = override[0]
	}
	_ = validate.RegisterTranslation(
		tag, translator,
		func(t ut.Translator) error { return t.Add(tag, text, ovrd) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field())
			return s
		},
	)
}

func dateTypeFunc(field reflect.Value) interface{} {
	switch d := field.Interface().(type) {
	case Date:
		if !d.IsZero() {
			return d.Time
		}
	case NullDate:
		if d.Valid {
			return d.Date.Time
		}
	}
	return nil
}

func decimalTypeFunc(field reflect.Value) interface{} {
	if d, ok := field.Interface().(decimal.Decimal); ok {
		return d.InexactFloat64()
	}
	return nil
}

// Custom Global Validators

// alphaNumUnderValidation only allows alphanumeric characters and underscores.
func alphaNumUnderValidation(fl validator.FieldLevel) bool {
	return alphaNumUnderRegex.MatchString(fl.Field().String())
}

func notBlankValidation(fl validator.FieldLevel) bool {
	if str, ok := fl.Field().Interface().(string); ok {
		return strings.TrimSpace(str) != ""
	}
	return false
}

// enumValidation checks Enum values.
func enumValidation(fl validator.FieldLevel) bool {
	if e, ok := fl.Field().Interface().(Enum); ok {
		return e.IsValid()
	}
	return false
}

// FieldMessages flattens validation errors into messages keyed by field name.
// ok is false when err holds no validation error; message is set when a ValidationError has no field.
func FieldMessages(err error, translator ut.Translator) (fields map[string]string, message string, ok bool) {
	switch e := errors.Cause(err).(type) {
	case validator.ValidationErrors:
		fields = make(map[string]string, len(e))
		for _, fe := range e {
			fields[fe.Field()] = fe.Translate(translator)
		}
		return fields, "", true
	case *ValidationError:
		if len(e.Fields) == 0 {
			return nil, e.Error(), true
		}
		fields = make(map[string]string, len(e.Fields))
		for _, fe := range e.Fields {
			fields[fe.Field] = fe.Error
		}
		return fields, "", true
	}
	return nil, "", false
}

// FormatFieldMessages renders field messages one per line, sorted by field.
func FormatFieldMessages(fields map[string]string) []string {
	lines := make([]string, 0, len(fields))
	for fld, msg := range fields {
		lines = append(lines, fmt.Sprintf("%s: %s", fld, msg))
	}
	sort.Strings(lines)
	return lines
}
