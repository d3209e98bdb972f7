package crmclient

import (
	"errors"
	"testing"
)

func TestClassifyFault(t *testing.T) {
	cases := []struct {
		code    string
		message string
		want    error
	}{
		{FaultCodeNotFound, "contact does not exist", ErrNotFound},
		{FaultCodeInvalidStatusForState, "invalid status", ErrInvalidStatusForState},
		{FaultCodeAggregateLimit, "limit exceeded", ErrAggregateLimit},
		{FaultCodeAttributeExists, "already there", ErrAttributeExists},
		{FaultCodeAttributeNotFound, "no such attribute", ErrAttributeNotFound},
		{FaultCodeAuthExpired, "ticket expired", ErrAuthExpired},
		// V3 без кода: классификация по известному фрагменту.
		{"", "7 is not a valid status code for state code contact1", ErrInvalidStatusForState},
	}
	for _, c := range cases {
		if err := ClassifyFault(c.code, c.message); !errors.Is(err, c.want) {
			t.Errorf("ClassifyFault(%q, %q) = %v, ожидалась %v", c.code, c.message, err, c.want)
		}
	}
}

func TestClassifyFault_Unknown(t *testing.T) {
	err := ClassifyFault("SomethingElse", "boom")
	if err == nil {
		t.Fatal("ожидалась ошибка")
	}
	for _, typed := range []error{ErrNotFound, ErrInvalidStatusForState, ErrAggregateLimit, ErrAttributeExists, ErrAttributeNotFound, ErrAuthExpired} {
		if errors.Is(err, typed) {
			t.Errorf("незнакомый код не должен классифицироваться как %v", typed)
		}
	}
}
