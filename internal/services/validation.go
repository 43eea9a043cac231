package services

import (
	"errors"
	"fmt"
	"html"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"

	"github.com/folioshelf/api/internal/platform/textutil"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate

	stripHTML = bluemonday.StrictPolicy()
)

func commandValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
			if name == "" || name == "-" {
				return field.Name
			}
			return name
		})
	})
	return validate
}

// normalizeSubmission trims text fields, strips markup from the description and canonicalises
// the language tag. It then validates the result and returns every field problem at once.
func normalizeSubmission(cmd SubmitPublicationCommand) (SubmitPublicationCommand, error) {
	cmd.MerchantID = strings.TrimSpace(cmd.MerchantID)
	cmd.Title = NormalizeTitle(cmd.Title)
	cmd.Author = textutil.CollapseSpace(cmd.Author)
	cmd.Category = textutil.CollapseSpace(cmd.Category)
	cmd.Language = textutil.NormalizeLanguage(cmd.Language)
	cmd.Description = SanitizeDescription(cmd.Description)

	var messages []string
	if err := commandValidator().Struct(cmd); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return cmd, fmt.Errorf("validate submission: %w", err)
		}
		for _, fe := range fieldErrs {
			messages = append(messages, fieldMessage(fe))
		}
	}
	if len(cmd.Document.Data) == 0 {
		messages = append(messages, "file is required")
	}
	if len(cmd.Cover.Data) == 0 {
		messages = append(messages, "cover is required")
	}
	if len(messages) > 0 {
		return cmd, &ValidationError{Messages: messages}
	}
	return cmd, nil
}

// SanitizeDescription removes all markup, unescapes entities left by the policy and collapses whitespace.
func SanitizeDescription(value string) string {
	return textutil.CollapseSpace(html.UnescapeString(stripHTML.Sanitize(value)))
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, fe.Param())
	default:
		return field + " is invalid"
	}
}
