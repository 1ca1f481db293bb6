package request

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/hallvard/fleet/internal/platform"
)

var validate = validator.New()

func init() {
	validate.RegisterValidation("container_name", func(fl validator.FieldLevel) bool {
		return platform.ValidContainerName(fl.Field().String())
	})
	validate.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return platform.ValidUsername(fl.Field().String())
	})
	validate.RegisterValidation("image", func(fl validator.FieldLevel) bool {
		return platform.ValidImage(fl.Field().String())
	})
	validate.RegisterValidation("public_key", func(fl validator.FieldLevel) bool {
		return platform.ValidPublicKey(fl.Field().String())
	})
}

func Decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	return nil
}

func RequireID(s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("missing required ID")
	}
	return s, nil
}
