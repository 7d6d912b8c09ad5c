package core

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"briefhub/internal/types"
)

func newTestValidator() *Validator {
	return NewValidator(slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

func TestValidateStructSuccess(t *testing.T) {
	v := newTestValidator()

	req := struct {
		Name string `validate:"required"`
		Plan string `validate:"required,plantier"`
	}{Name: "Rebrand", Plan: "pro"}

	if err := v.ValidateStruct(req); err != nil {
		t.Fatalf("ValidateStruct returned error: %v", err)
	}
}

func TestValidateStructMissingField(t *testing.T) {
	v := newTestValidator()

	req := struct {
		Name string `validate:"required"`
	}{}

	err := v.ValidateStruct(req)
	if err == nil {
		t.Fatal("ValidateStruct should fail for missing required field")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("error should be *types.AppError, got %T", err)
	}
	if appErr.HTTPStatus() != http.StatusBadRequest {
		t.Errorf("HTTPStatus = %d, want 400", appErr.HTTPStatus())
	}
	if appErr.Details["name"] != "required" {
		t.Errorf("details = %v, want name: required", appErr.Details)
	}
}

func TestValidateStructPlanTierTag(t *testing.T) {
	v := newTestValidator()

	tests := []struct {
		plan    string
		wantErr bool
	}{
		{"starter", false},
		{"pro", false},
		{"agency", false},
		{"enterprise", true},
		{"", true}, // fails required before plantier
	}

	for _, tt := range tests {
		req := struct {
			Plan string `validate:"required,plantier"`
		}{Plan: tt.plan}

		err := v.ValidateStruct(req)
		if tt.wantErr && err == nil {
			t.Errorf("plan %q should fail validation", tt.plan)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("plan %q should pass validation, got %v", tt.plan, err)
		}
	}
}

func TestValidateStructNonStruct(t *testing.T) {
	v := newTestValidator()

	err := v.ValidateStruct("not a struct")
	if err == nil {
		t.Fatal("ValidateStruct should fail for non-struct input")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("error should be *types.AppError, got %T", err)
	}
	if appErr.Code != types.ErrCodeInternalUnexpected {
		t.Errorf("code = %q, want internal_unexpected_error", appErr.Code)
	}
}
