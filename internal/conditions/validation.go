package conditions

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslation "github.com/go-playground/validator/v10/translations/en"
)

// ValidationErrors maps a field name to the rules it failed and their messages,
// e.g. {"option_group_id": {"exists": "..."}}.
type ValidationErrors map[string]map[string]string

func (e ValidationErrors) Add(field, rule, message string) {
	if e[field] == nil {
		e[field] = make(map[string]string)
	}
	e[field][rule] = message
}

// Has reports whether field has at least one failure.
func (e ValidationErrors) Has(field string) bool {
	return len(e[field]) > 0
}

func (e ValidationErrors) Error() string {
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var parts []string
	for _, f := range fields {
		rules := make([]string, 0, len(e[f]))
		for r := range e[f] {
			rules = append(rules, r)
		}
		sort.Strings(rules)
		for _, r := range rules {
			parts = append(parts, fmt.Sprintf("%s: %s", f, e[f][r]))
		}
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// OrNil returns e as an error, or nil when it holds no failures.
func (e ValidationErrors) OrNil() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// AsValidationErrors extracts ValidationErrors from err.
func AsValidationErrors(err error) (ValidationErrors, bool) {
	var verr ValidationErrors
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}

// Check is a single field rule. It reports whether the field passes.
type Check func(ctx context.Context) (bool, error)

type fieldRule struct {
	field   string
	rule    string
	message string
	check   Check
}

// Validator runs field rules in order. After a field fails, its remaining
// rules are skipped.
type Validator struct {
	errs  ValidationErrors
	rules []fieldRule
}

func NewValidator() *Validator {
	return &Validator{errs: make(ValidationErrors)}
}

// Rule registers a check for field. A failing check records message under rule.
func (v *Validator) Rule(field, rule, message string, check Check) *Validator {
	v.rules = append(v.rules, fieldRule{field: field, rule: rule, message: message, check: check})
	return v
}

// Fail records a failure directly.
func (v *Validator) Fail(field, rule, message string) *Validator {
	v.errs.Add(field, rule, message)
	return v
}

// Shape runs the struct tag rules of input and records their failures.
func (v *Validator) Shape(input any) *Validator {
	for field, failures := range checkShape(input) {
		for rule, msg := range failures {
			v.errs.Add(field, rule, msg)
		}
	}
	return v
}

// Validate runs every registered rule. It returns ValidationErrors when any
// rule failed, or the first error a check returned.
func (v *Validator) Validate(ctx context.Context) error {
	for _, r := range v.rules {
		if v.errs.Has(r.field) {
			continue
		}
		ok, err := r.check(ctx)
		if err != nil {
			return fmt.Errorf("validate %s: %w", r.field, err)
		}
		if !ok {
			v.errs.Add(r.field, r.rule, r.message)
		}
	}
	return v.errs.OrNil()
}

var (
	shapeOnce       sync.Once
	shapeValidate   *validator.Validate
	shapeTranslator ut.Translator
)

func shapeValidator() (*validator.Validate, ut.Translator) {
	shapeOnce.Do(func() {
		validate := validator.New()

		enLocale := en.New()
		translator, found := ut.New(enLocale, enLocale).GetTranslator("en")
		if !found {
			panic("en translator was not found")
		}
		if err := enTranslation.RegisterDefaultTranslations(validate, translator); err != nil {
			panic(fmt.Errorf("translator was not registered: %w", err))
		}

		// Use JSON field names in error keys
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})

		shapeValidate = validate
		shapeTranslator = translator
	})
	return shapeValidate, shapeTranslator
}

func checkShape(input any) ValidationErrors {
	errs := make(ValidationErrors)
	validate, translator := shapeValidator()
	err := validate.Struct(input)
	if err == nil {
		return errs
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		errs.Add("_", "invalid", err.Error())
		return errs
	}
	for _, fe := range fieldErrs {
		errs.Add(fe.Field(), fe.Tag(), fe.Translate(translator))
	}
	return errs
}

func isNumeric(s string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return err == nil
}
