package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/austinkregel/local-media/moodd/internal/types"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// getValidator returns the singleton validator with the engine's custom tags.
func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("pow2", func(fl validator.FieldLevel) bool {
			return IsPowerOfTwo(int(fl.Field().Int()))
		})
	})
	return validate
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// Validate checks every field and cross-field constraint. Any failure is a
// types.ErrConfigurationInvalid; values are never silently clamped.
func (c *Config) Validate() error {
	var problems []string

	if err := getValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return types.E(types.KindConfigurationInvalid, "config", err)
		}
		for _, fe := range verrs {
			problems = append(problems, describe(fe))
		}
	}

	r := c.Recommend
	if sum := r.PreferenceWeight + r.MoodWeight + r.PersonalityWeight + r.RecencyWeight; math.Abs(sum-1) > 1e-6 {
		problems = append(problems, fmt.Sprintf("recommend weights must sum to 1, got %.4f", sum))
	}

	if c.Personality.NormalizationTarget > float64(types.NumTraits) {
		problems = append(problems, fmt.Sprintf("personality.normalization_target must be at most %d", types.NumTraits))
	}

	p := c.Personality
	if p.SmallStep > p.MediumStep || p.MediumStep > p.LargeStep {
		problems = append(problems, "personality steps must satisfy small <= medium <= large")
	}

	if len(problems) > 0 {
		return types.E(types.KindConfigurationInvalid, "config", errors.New(strings.Join(problems, "; ")))
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "pow2":
		return fmt.Sprintf("%s must be a power of two, got %v", field, fe.Value())
	case "gte", "lte", "gt", "lt":
		return fmt.Sprintf("%s must be %s %s, got %v", field, fe.Tag(), fe.Param(), fe.Value())
	case "ltefield", "ltfield":
		return fmt.Sprintf("%s must be %s %s", field, fe.Tag(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %v", field, fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}
