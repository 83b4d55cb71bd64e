// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePlanID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"uuid", "3f2b8c1e-9a4d-4f6e-8b2a-1c3d5e7f9a0b", false},
		{"slug", "plan-1", false},
		{"underscore", "run_7", false},
		{"empty", "", true},
		{"leading dash", "-plan", true},
		{"path traversal", "../etc", true},
		{"space", "plan 1", true},
		{"too long", strings.Repeat("a", 65), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePlanID(tt.id)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidIdentifier)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateDriver(t *testing.T) {
	tests := []struct {
		driver  string
		wantErr bool
	}{
		{"mysql", false},
		{"postgres", false},
		{"sqlite3", false},
		{"pgx_v5", false},
		{"", true},
		{"MySQL", true},
		{"3db", true},
		{"mysql&x=1", true},
	}

	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			err := ValidateDriver(tt.driver)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidIdentifier)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSanitizeDriver(t *testing.T) {
	got, err := SanitizeDriver("  MySQL ")
	require.NoError(t, err)
	assert.Equal(t, "mysql", got)

	_, err = SanitizeDriver("my sql")
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}
