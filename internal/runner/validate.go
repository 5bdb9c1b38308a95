package runner

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dyike/TradingAgentsGo/models"
	terrors "github.com/dyike/TradingAgentsGo/pkg/errors"
)

var tickerPattern = regexp.MustCompile(`^[A-Z]{1,5}$`)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("ticker", func(fl validator.FieldLevel) bool {
		return tickerPattern.MatchString(fl.Field().String())
	})
	return v
}

var fieldReasons = map[string]string{
	"required": "is required",
	"ticker":   "must be 1-5 upper-case letters",
	"datetime": "must be a YYYY-MM-DD date",
	"oneof":    "must be one of market, fundamentals, news, social",
	"unique":   "must not repeat an analyst",
}

// validateRequest checks the struct rules of a normalized request and
// returns every offending field at once.
func validateRequest(v *validator.Validate, req models.AnalysisRequest) []terrors.FieldError {
	err := v.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []terrors.FieldError{{Field: "request", Reason: err.Error()}}
	}
	seen := make(map[string]bool)
	var fields []terrors.FieldError
	for _, fe := range verrs {
		name := fe.Field()
		if i := strings.IndexByte(name, '['); i > 0 {
			name = name[:i]
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		reason, ok := fieldReasons[fe.Tag()]
		if !ok {
			reason = "must satisfy " + fe.Tag()
			if fe.Param() != "" {
				reason += "=" + fe.Param()
			}
		}
		fields = append(fields, terrors.FieldError{Field: name, Reason: reason})
	}
	return fields
}
