package validator

import (
	"mime"
	"strings"

	"github.com/go-playground/validator/v10"
	api "github.com/safemasking/masking-api/api/v1alpha1"
)

// contentTypeValidator accepts a syntactically valid media type with a type and a subtype.
func contentTypeValidator(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}

	mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(val))
	if err != nil {
		return false
	}
	return strings.Count(mediaType, "/") == 1 && !strings.HasPrefix(mediaType, "/") && !strings.HasSuffix(mediaType, "/")
}

func notBlankValidator(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	return strings.TrimSpace(val) != ""
}

// MaskingOptionsValidator requires a name whenever custom objects are asked for.
func MaskingOptionsValidator() func(sl validator.StructLevel) {
	return func(sl validator.StructLevel) {
		opts, ok := sl.Current().Interface().(api.MaskingOptions)
		if !ok {
			return
		}
		if opts.CustomObject && strings.TrimSpace(opts.CustomObjectName) == "" {
			sl.ReportError(opts.CustomObjectName, "customObjectName", "CustomObjectName", "custom_object_name", "")
		}
	}
}
