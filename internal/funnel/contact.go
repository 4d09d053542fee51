package funnel

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"quote-funnel-service/internal/models"
)

// ValidationError carries per-field messages for the client
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func contactValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("phone_digits", func(fl validator.FieldLevel) bool {
			_, err := NormalizePhone(fl.Field().String())
			return err == nil
		})
	})
	return validate
}

var fieldNames = map[string]string{
	"FirstName": "first_name",
	"LastName":  "last_name",
	"Email":     "email",
	"Phone":     "phone",
}

// ValidateContact checks the contact step without any I/O
func ValidateContact(c models.ContactDetails) error {
	c.FirstName = strings.TrimSpace(c.FirstName)
	c.LastName = strings.TrimSpace(c.LastName)
	c.Email = strings.TrimSpace(c.Email)
	c.Phone = strings.TrimSpace(c.Phone)

	err := contactValidator().Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		name := fieldNames[fe.Field()]
		if name == "" {
			name = strings.ToLower(fe.Field())
		}
		fields[name] = fieldMessage(fe)
	}
	return &ValidationError{Fields: fields}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "email":
		return "must be a valid email address"
	case "phone_digits":
		if _, err := NormalizePhone(fmt.Sprint(fe.Value())); err != nil {
			return err.Error()
		}
		return "must be a valid phone number"
	default:
		return "is invalid"
	}
}

// NormalizePhone checks the digit count for the detected country and returns
// the number in E.164 form. Numbers without a country code are treated as UK
// when they start with 0.
//
//	+44: 9 or 10 national digits
//	0 prefix (UK): 10 or 11 digits including the trunk 0
//	+1: 10 national digits
//	other +CC: 8 to 15 digits in total
//	no prefix: 7 to 15 digits
func NormalizePhone(phone string) (string, error) {
	trimmed := strings.TrimSpace(phone)
	if trimmed == "" {
		return "", errors.New("phone number is required")
	}

	var digits strings.Builder
	for i, r := range trimmed {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return "", errors.New("phone number contains invalid characters")
		}
	}
	d := digits.String()
	international := strings.HasPrefix(trimmed, "+") || strings.HasPrefix(d, "00")
	d = strings.TrimPrefix(d, "00")

	switch {
	case international && strings.HasPrefix(d, "44"):
		national := strings.TrimPrefix(d[2:], "0")
		if len(national) < 9 || len(national) > 10 {
			return "", errors.New("UK numbers must have 9 or 10 digits after +44")
		}
		return "+44" + national, nil
	case international && strings.HasPrefix(d, "1"):
		national := d[1:]
		if len(national) != 10 {
			return "", errors.New("US numbers must have 10 digits after +1")
		}
		return "+1" + national, nil
	case international:
		if len(d) < 8 || len(d) > 15 {
			return "", errors.New("international numbers must have 8 to 15 digits")
		}
		return "+" + d, nil
	case strings.HasPrefix(d, "0"):
		if len(d) < 10 || len(d) > 11 {
			return "", errors.New("UK numbers must have 10 or 11 digits")
		}
		return "+44" + d[1:], nil
	default:
		if len(d) < 7 || len(d) > 15 {
			return "", errors.New("phone number must have 7 to 15 digits")
		}
		return "+" + d, nil
	}
}

// MaskPhone keeps the last three digits for logs and responses
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-3) + phone[len(phone)-3:]
}

// MaskEmail keeps the first character of the local part
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}
