// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

package validation

import (
	"strings"
	"testing"

	"github.com/tomtom215/safevision/internal/models"
)

func TestValidateStruct_Credentials(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		creds     models.Credentials
		wantField string
	}{
		{"valid", models.Credentials{Username: "guard01", Password: "secret"}, ""},
		{"missing username", models.Credentials{Password: "secret"}, "username"},
		{"short username", models.Credentials{Username: "ab", Password: "secret"}, "username"},
		{"missing password", models.Credentials{Username: "guard01"}, "password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			verr := ValidateStruct(&tt.creds)
			if tt.wantField == "" {
				if verr != nil {
					t.Fatalf("unexpected error: %v", verr)
				}
				return
			}
			if verr == nil {
				t.Fatal("expected validation error")
			}
			if got := verr.Errors()[0].Field; got != tt.wantField {
				t.Errorf("field = %q, want %q", got, tt.wantField)
			}
		})
	}
}

func TestValidateStruct_RegistrationAlertTypes(t *testing.T) {
	t.Parallel()

	reg := models.Registration{
		Username:   "guard01",
		Password:   "secret1",
		Email:      "guard@example.com",
		AlertTypes: []models.AlertChannelType{models.AlertChannelEmail, "PIGEON"},
	}
	verr := ValidateStruct(&reg)
	if verr == nil {
		t.Fatal("expected error for unknown alert type")
	}
	if !strings.Contains(verr.Error(), "must be one of") {
		t.Errorf("unexpected message: %s", verr.Error())
	}
}

func TestToAPIError(t *testing.T) {
	t.Parallel()

	single := ValidateStruct(&models.Credentials{Username: "guard01"}).ToAPIError()
	if single.Code != "VALIDATION_ERROR" {
		t.Errorf("Code = %q", single.Code)
	}
	if single.Details["field"] != "password" {
		t.Errorf("Details = %v", single.Details)
	}

	multi := ValidateStruct(&models.Credentials{}).ToAPIError()
	fields, ok := multi.Details["fields"].([]map[string]interface{})
	if !ok || len(fields) != 2 {
		t.Errorf("expected two field errors, got %v", multi.Details)
	}
}

func TestIdentityRule(t *testing.T) {
	t.Parallel()

	type req struct {
		Identity string `json:"identity" validate:"identity"`
	}

	tests := []struct {
		in   string
		want bool
	}{
		{"guard01", true},
		{"ana.silva@corp", true},
		{"a", false},
		{"../etc", false},
		{"guard 01", false},
		{"guard/01", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got := ValidateStruct(&req{Identity: tt.in}) == nil
			if got != tt.want {
				t.Errorf("identity %q valid = %v, want %v", tt.in, got, tt.want)
			}
			if ValidIdentity(tt.in) != tt.want {
				t.Errorf("ValidIdentity(%q) mismatch", tt.in)
			}
		})
	}
}
