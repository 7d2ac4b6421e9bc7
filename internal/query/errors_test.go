package query

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsClientError(t *testing.T) {
	_, err := ParseFilters([]string{"name:badop:x"}, testPolicy())
	if err == nil {
		t.Fatal("expected a parse error")
	}
	if !IsClientError(err) {
		t.Errorf("IsClientError(%v) = false", err)
	}
	if !IsClientError(fmt.Errorf("list documents: %w", err)) {
		t.Error("wrapped grammar errors must still classify as client errors")
	}
	if IsClientError(errors.New("connection reset")) {
		t.Error("infrastructure errors must not classify as client errors")
	}
}
