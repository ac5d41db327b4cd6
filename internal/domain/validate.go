package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	MinScore = 1
	MaxScore = 6
)

var validate = validator.New()

type scoreSheet struct {
	Scores map[string]int `validate:"required,min=1,dive,keys,required,max=64,endkeys,min=1,max=6"`
}

type athleteInput struct {
	Name string `validate:"required,max=200"`
}

// ValidateScores rejects empty score maps, blank or oversized criterion
// names, and scores outside [MinScore, MaxScore]. Values are never clamped.
func ValidateScores(scores map[string]int) error {
	for criterion := range scores {
		if strings.TrimSpace(criterion) != criterion {
			return fmt.Errorf("%w: criterion %q has surrounding whitespace", ErrValidation, criterion)
		}
	}
	return structErr(validate.Struct(scoreSheet{Scores: scores}))
}

// ValidateAthleteName checks the display name given to a new athlete.
func ValidateAthleteName(name string) error {
	return structErr(validate.Struct(athleteInput{Name: strings.TrimSpace(name)}))
}

func structErr(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%w: %s is required", ErrValidation, fe.Field())
	case "min", "max":
		return fmt.Errorf("%w: %s=%v violates %s=%s", ErrValidation, fe.Field(), fe.Value(), fe.Tag(), fe.Param())
	}
	return fmt.Errorf("%w: %s failed %s", ErrValidation, fe.Field(), fe.Tag())
}
