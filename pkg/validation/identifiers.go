// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks identifiers that arrive from outside the process
// before they are placed in URLs or used as lookup keys.
//
// Plan IDs come from HTTP paths; driver names come from metric labels and
// are forwarded to the collector as query parameters.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidIdentifier is wrapped by every validation failure.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// planIDPattern accepts UUIDs and short slugs such as "plan-1".
var planIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// driverPattern accepts database/sql driver names: lower-case letters,
// digits and underscores, starting with a letter.
var driverPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,31}$`)

// ValidatePlanID checks a fix plan identifier.
//
// Example:
//
//	if err := validation.ValidatePlanID(c.Param("id")); err != nil {
//	    c.JSON(http.StatusBadRequest, ...)
//	}
func ValidatePlanID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: plan id cannot be empty", ErrInvalidIdentifier)
	}
	if !planIDPattern.MatchString(id) {
		return fmt.Errorf("%w: plan id %q (must be 1-64 letters, digits, '-' or '_')", ErrInvalidIdentifier, id)
	}
	return nil
}

// ValidateDriver checks a database driver name.
func ValidateDriver(driver string) error {
	if driver == "" {
		return fmt.Errorf("%w: driver cannot be empty", ErrInvalidIdentifier)
	}
	if !driverPattern.MatchString(driver) {
		return fmt.Errorf("%w: driver %q (must be lower-case letters, digits or '_')", ErrInvalidIdentifier, driver)
	}
	return nil
}

// SanitizeDriver lower-cases and trims a driver name, then validates it.
func SanitizeDriver(driver string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(driver))
	if err := ValidateDriver(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
