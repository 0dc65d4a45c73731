package validation

import (
	"strings"
	"testing"
	"time"

	"github.com/kbukum/flux/errors"
)

func TestValidatorCounts(t *testing.T) {
	tests := []struct {
		name    string
		check   func(*Validator) *Validator
		wantErr bool
	}{
		{"zero take", func(v *Validator) *Validator { return v.NonNegative("n", 0) }, false},
		{"negative take", func(v *Validator) *Validator { return v.NonNegative("n", -1) }, true},
		{"batch of one", func(v *Validator) *Validator { return v.Positive("size", 1) }, false},
		{"empty batch", func(v *Validator) *Validator { return v.Positive("size", 0) }, true},
		{"no delay", func(v *Validator) *Validator { return v.NonNegativeDuration("interval", 0) }, false},
		{"negative delay", func(v *Validator) *Validator { return v.NonNegativeDuration("interval", -time.Millisecond) }, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.check(New()).HasErrors(); got != tc.wantErr {
				t.Errorf("HasErrors() = %v, want %v", got, tc.wantErr)
			}
		})
	}
}

func TestValidatorName(t *testing.T) {
	tests := []struct {
		value string
		want  string
	}{
		{"fanout", ""},
		{"   ", "is required"},
		{strings.Repeat("x", MaxNameLength+1), "characters or less"},
		{"ordered fanout", "whitespace"},
	}
	for _, tc := range tests {
		v := New().Name("name", tc.value)
		if tc.want == "" {
			if v.HasErrors() {
				t.Errorf("Name(%q): unexpected %v", tc.value, v.Errors())
			}
			continue
		}
		if !v.HasErrors() || !strings.Contains(v.Errors()[0].Message, tc.want) {
			t.Errorf("Name(%q): expected %q, got %v", tc.value, tc.want, v.Errors())
		}
	}
}

func TestValidatorCustom(t *testing.T) {
	v := New()
	v.Custom(false, "field", "custom error")
	if !v.HasErrors() {
		t.Fatal("expected error for false condition")
	}
	if v.Errors()[0].Message != "custom error" {
		t.Errorf("expected 'custom error', got %q", v.Errors()[0].Message)
	}
}

func TestValidatorValidate(t *testing.T) {
	if New().Name("name", "ok").Validate() != nil {
		t.Error("expected nil for valid input")
	}

	v := New()
	v.Name("name", "")
	v.NonNegative("concurrency", -2)
	appErr := v.Validate()
	if appErr == nil {
		t.Fatal("expected error")
	}
	if appErr.Code != errors.ErrCodeInvalidInput {
		t.Errorf("expected INVALID_INPUT, got %s", appErr.Code)
	}
	fields, ok := appErr.Details["fields"].([]FieldError)
	if !ok {
		t.Fatalf("expected field errors in details, got %T", appErr.Details["fields"])
	}
	if fields[1].Value != -2 {
		t.Errorf("expected rejected value recorded, got %v", fields[1].Value)
	}
	if _, ok := appErr.Details["field"]; ok {
		t.Error("expected no single field detail for two failures")
	}
	if !strings.Contains(appErr.Message, "name") || !strings.Contains(appErr.Message, "concurrency") {
		t.Errorf("expected both fields in message, got %q", appErr.Message)
	}
}

func TestValidatorValidate_SingleField(t *testing.T) {
	appErr := New().Positive("size", 0).Validate()
	if appErr == nil || appErr.Details["field"] != "size" {
		t.Fatalf("expected field=size, got %v", appErr)
	}
}

func TestValidatorErr_NilInterface(t *testing.T) {
	if err := New().Err(); err != nil {
		t.Errorf("expected untyped nil, got %#v", err)
	}
	if err := New().NonNegative("n", -1).Err(); err == nil {
		t.Error("expected error")
	}
}

func TestValidatorChaining(t *testing.T) {
	v := New()
	result := v.Name("name", "fanout").NonNegative("concurrency", 2).Positive("size", 3)
	if result != v {
		t.Error("expected chaining to return same validator")
	}
	if v.HasErrors() {
		t.Error("expected no errors for valid chained validation")
	}
}

type sampleConfig struct {
	DefaultConcurrency int    `mapstructure:"default_concurrency" validate:"gte=0"`
	DefaultMergeName   string `mapstructure:"default_merge_name" validate:"omitempty,max=8"`
	Format             string `mapstructure:"format" validate:"required,oneof=json console"`
}

func TestStructValidateValid(t *testing.T) {
	err := Validate(sampleConfig{DefaultConcurrency: 2, Format: "json"})
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestStructValidateInvalid(t *testing.T) {
	err := Validate(sampleConfig{DefaultConcurrency: -1, DefaultMergeName: "much-too-long", Format: "xml"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !errors.HasCode(err, errors.ErrCodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT, got %v", err)
	}
	msg := err.Error()
	for _, want := range []string{
		"default_concurrency: must be greater than or equal to 0",
		"default_merge_name: must be at most 8 characters",
		"format: must be one of: json console",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q in %q", want, msg)
		}
	}
}

func TestStructValidateNumericMin(t *testing.T) {
	type input struct {
		Limit int `validate:"min=1"`
	}
	err := Validate(input{Limit: 0})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "limit: must be at least 1") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestStructValidateNonStruct(t *testing.T) {
	if err := Validate(42); err == nil {
		t.Error("expected error for non-struct input")
	}
}

func TestSingleCheckFuncs(t *testing.T) {
	if err := NonNegative("n", 3); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	if err := Positive("size", 0); !errors.HasCode(err, errors.ErrCodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT, got %v", err)
	}
}
