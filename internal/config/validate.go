package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("toml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return describeValidation(validationErrors)
		}
		return err
	}
	if err := c.validateDispatch(); err != nil {
		return err
	}
	if err := c.validateProviders(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateDispatch() error {
	if c.Dispatch.MinWorkers > c.Dispatch.MaxWorkers {
		return fmt.Errorf("dispatch.min_workers (%d) must not exceed dispatch.max_workers (%d)", c.Dispatch.MinWorkers, c.Dispatch.MaxWorkers)
	}
	return nil
}

func (c *Config) validateProviders() error {
	if len(c.Providers) == 0 {
		return errors.New("at least one [[providers]] entry is required")
	}
	seen := make(map[string]struct{}, len(c.Providers))
	for _, p := range c.Providers {
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("providers: duplicate name %q", p.Name)
		}
		seen[p.Name] = struct{}{}
		if p.Family != "local" && len(p.CredentialEnv) == 0 {
			return fmt.Errorf("providers.%s: credential_env is required for family %s", p.Name, p.Family)
		}
		if p.Family == "local" && p.BaseURL == "" {
			return fmt.Errorf("providers.%s: base_url is required for family local", p.Name)
		}
	}
	return nil
}

func describeValidation(errs validator.ValidationErrors) error {
	messages := make([]string, 0, len(errs))
	for _, fe := range errs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		switch fe.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", field))
		case "oneof":
			messages = append(messages, fmt.Sprintf("%s must be one of: %s (got %v)", field, fe.Param(), fe.Value()))
		case "gt":
			messages = append(messages, fmt.Sprintf("%s must be greater than %s", field, fe.Param()))
		case "gte":
			messages = append(messages, fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param()))
		case "url":
			messages = append(messages, fmt.Sprintf("%s must be a valid URL", field))
		case "hostname_port":
			messages = append(messages, fmt.Sprintf("%s must be host:port", field))
		default:
			messages = append(messages, fmt.Sprintf("%s failed %q validation", field, fe.Tag()))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(messages, "; "))
}
