package tools

import (
	"errors"
	"slices"
	"testing"
)

func TestInputSchema_RequiredAndEnum(t *testing.T) {
	t.Parallel()
	d := Definition{
		Name: "manage_service",
		Params: []Param{
			{Name: "service", Required: true},
			{Name: "action", Required: true, Enum: []string{"start", "stop"}},
			{Name: "note"},
		},
	}

	s := d.InputSchema()

	if s.Type != "object" {
		t.Errorf("type = %q, want object", s.Type)
	}
	if !slices.Equal(s.Required, []string{"service", "action"}) {
		t.Errorf("required = %v", s.Required)
	}
	if len(s.Properties) != 3 {
		t.Fatalf("got %d properties, want 3", len(s.Properties))
	}
	action := s.Properties["action"]
	if action.Type != "string" || len(action.Enum) != 2 || action.Enum[0] != "start" {
		t.Errorf("action schema = %+v", action)
	}
	if action.MinLength == nil || *action.MinLength != 1 {
		t.Error("required param should carry minLength 1")
	}
	if s.Properties["note"].MinLength != nil {
		t.Error("optional param should not carry minLength")
	}
}

func TestInputSchema_NoParams(t *testing.T) {
	t.Parallel()
	s := Definition{Name: "list_failed_services"}.InputSchema()

	if s.Type != "object" || s.Properties == nil || len(s.Required) != 0 {
		t.Errorf("schema = %+v, want empty object schema", s)
	}
	if _, err := s.Resolve(nil); err != nil {
		t.Errorf("Resolve: %v", err)
	}
}

func TestDecodeArgs(t *testing.T) {
	t.Parallel()
	var v struct {
		Service string `json:"service"`
	}

	if err := DecodeArgs(`{"service":"sshd"}`, &v); err != nil || v.Service != "sshd" {
		t.Errorf("DecodeArgs = %v, service = %q", err, v.Service)
	}
	if err := DecodeArgs("", &v); err != nil {
		t.Errorf("empty args: %v", err)
	}
	if err := DecodeArgs(`{"service":42}`, &v); !errors.Is(err, ErrMalformedArgument) {
		t.Errorf("err = %v, want ErrMalformedArgument", err)
	}
}
