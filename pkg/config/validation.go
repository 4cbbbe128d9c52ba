// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/stacklok/gqlgate/pkg/session"
)

var validate = newValidator()

// newValidator reports fields by their config key rather than their Go name.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("mapstructure"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs []error

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("failed to validate configuration: %w", err)
		}
		for _, fe := range fieldErrs {
			errs = append(errs, fieldError(fe))
		}
	}

	if c.Session.Secret != "" && len(c.Session.Secret) < session.MinSecretLength {
		errs = append(errs, fmt.Errorf("session.secret must be at least %d bytes", session.MinSecretLength))
	}
	if scopes := c.OIDC.ScopeList(); len(scopes) > 0 && !slices.Contains(scopes, "openid") {
		errs = append(errs, errors.New("oidc.scopes must include openid"))
	}
	if c.IsProduction() && c.OIDC.AllowHTTP {
		errs = append(errs, errors.New("oidc.allow_http cannot be enabled in production"))
	}
	if c.GraphQL.AdminSecret != "" && c.GraphQL.Endpoint == "" {
		errs = append(errs, errors.New("graphql.admin_secret requires graphql.endpoint"))
	}

	return errors.Join(errs...)
}

// fieldError renders a validator failure as "<key> <problem>".
func fieldError(fe validator.FieldError) error {
	// Namespace is "Config.<key path>".
	_, key, _ := strings.Cut(fe.Namespace(), ".")

	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", key)
	case "required_if":
		return fmt.Errorf("%s is required when %s", key, strings.Replace(fe.Param(), " ", " is ", 1))
	case "url":
		return fmt.Errorf("%s must be a valid URL", key)
	case "file":
		return fmt.Errorf("%s must be an existing file", key)
	case "oneof":
		return fmt.Errorf("%s must be one of [%s]", key, fe.Param())
	case "startswith":
		return fmt.Errorf("%s must start with %q", key, fe.Param())
	default:
		return fmt.Errorf("%s failed %s=%s validation", key, fe.Tag(), fe.Param())
	}
}
