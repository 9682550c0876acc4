// Package request decodes and validates JSON request bodies.
package request

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/previsao/market-api/internal/apperr"
)

const maxBodyBytes = 1 << 20

var (
	validate     *validator.Validate
	onceValidate sync.Once
)

// Validator returns the shared validator. Field names in its errors are the
// JSON names.
func Validator() *validator.Validate {
	onceValidate.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		// maxbytes limits the encoded length, where max counts runes.
		_ = validate.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
			limit, err := strconv.Atoi(fl.Param())
			return err == nil && len(fl.Field().String()) <= limit
		})
	})
	return validate
}

// Decode reads r's JSON body into v and validates it. Failures come back
// as INVALID_INPUT; validation failures carry per-field details.
func Decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.InvalidInput("Invalid request body")
	}
	return Validate(v)
}

// Validate runs struct validation on v.
func Validate(v any) error {
	err := Validator().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.InvalidInput("Invalid request body")
	}
	return apperr.InvalidInput("Validation failed").WithDetails(fieldErrors(verrs))
}

func fieldErrors(verrs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(verrs))
	for _, e := range verrs {
		out[e.Field()] = "failed on tag '" + e.Tag() + "'"
	}
	return out
}
