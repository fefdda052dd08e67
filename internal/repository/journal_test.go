package repository

import (
	"testing"

	"github.com/capisim/capisim/internal/model"
)

func TestNullable(t *testing.T) {
	t.Parallel()

	if got := nullable(model.Null[string]()); got != nil {
		t.Errorf("nullable(Null) = %v, want nil", *got)
	}
	if got := nullable(model.Some(3.5)); got == nil || *got != 3.5 {
		t.Errorf("nullable(Some(3.5)) = %v", got)
	}
	if got := nullableString(""); got != nil {
		t.Errorf("nullableString(\"\") = %q, want nil", *got)
	}
	if got := nullableString("SKU1"); got == nil || *got != "SKU1" {
		t.Errorf("nullableString(SKU1) = %v", got)
	}
}
