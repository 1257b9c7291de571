// Package validate checks account forms before they are sent to the server.
package validate

import (
	"errors"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"conduit-client/internal/domain"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// LoginForm is the sign-in form.
type LoginForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// SignUpForm is the registration form.
type SignUpForm struct {
	Username        string `json:"username" validate:"required,min=3,max=20,username"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=6,strongpassword"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,min=6,eqfield=Password"`
}

// UpdateForm is the profile settings form; nil fields are left unchanged.
type UpdateForm struct {
	Email    *string `json:"email" validate:"omitempty,email"`
	Username *string `json:"username" validate:"omitempty,min=3,max=20"`
	Bio      *string `json:"bio"`
	Image    *string `json:"image" validate:"omitempty,url"`
	Password *string `json:"password" validate:"omitempty,min=6"`
}

// Update converts the form into the request body.
func (f UpdateForm) Update() domain.UserUpdate {
	return domain.UserUpdate{
		Email:    f.Email,
		Username: f.Username,
		Bio:      f.Bio,
		Image:    f.Image,
		Password: f.Password,
	}
}

// Errors maps a form field to the first problem found with it.
type Errors map[string]string

func (e Errors) Error() string {
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	msgs := make([]string, 0, len(fields))
	for _, f := range fields {
		msgs = append(msgs, f+": "+e[f])
	}
	return strings.Join(msgs, "; ")
}

// messages is keyed by field, then by the failed tag.
var messages = map[string]map[string]string{
	"email": {
		"required": "Please enter a valid email address",
		"email":    "Please enter a valid email address",
	},
	"password": {
		"required":       "Password must be at least 6 characters",
		"min":            "Password must be at least 6 characters",
		"strongpassword": "Password must contain at least one lowercase letter, one uppercase letter, and one number",
	},
	"username": {
		"required": "Username must be at least 3 characters",
		"min":      "Username must be at least 3 characters",
		"max":      "Username must be less than 20 characters",
		"username": "Username can only contain letters, numbers, and underscores",
	},
	"confirmPassword": {
		"required": "Password confirmation is required",
		"min":      "Password confirmation is required",
		"eqfield":  "Passwords do not match",
	},
	"image": {
		"url": "Image must be a valid URL",
	},
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// Registration of built-in tag names cannot fail.
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("strongpassword", func(fl validator.FieldLevel) bool {
		return strongPassword(fl.Field().String())
	})
	return v
}

// strongPassword needs one lower case letter, one upper case letter and one digit.
func strongPassword(s string) bool {
	var lower, upper, digit bool
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		}
	}
	return lower && upper && digit
}

func Login(f LoginForm) error {
	return check(f)
}

func SignUp(f SignUpForm) error {
	return check(f)
}

func Update(f UpdateForm) error {
	return check(f)
}

func check(form any) error {
	err := validate.Struct(form)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return err
	}
	out := make(Errors, len(ves))
	for _, fe := range ves {
		field := fe.Field()
		if _, seen := out[field]; seen {
			continue
		}
		out[field] = message(field, fe.Tag())
	}
	return out
}

func message(field, tag string) string {
	if msg, ok := messages[field][tag]; ok {
		return msg
	}
	return "Invalid " + field
}
