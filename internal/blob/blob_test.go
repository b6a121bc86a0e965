package blob

import (
	"errors"
	"testing"
)

func TestValidateKey(t *testing.T) {
	valid := []string{"exports/room/1.csv", "a", "a/b.c"}
	for _, k := range valid {
		if err := ValidateKey(k); err != nil {
			t.Fatalf("expected %q valid: %v", k, err)
		}
	}
	invalid := []string{"", "  ", "/abs", "../up", "a/../b", "a//b", "a/./b", "win\\path", "trailing/"}
	for _, k := range invalid {
		if err := ValidateKey(k); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("expected %q rejected, got %v", k, err)
		}
	}
}

func TestCloneMetadata(t *testing.T) {
	if CloneMetadata(nil) != nil {
		t.Fatalf("nil should stay nil")
	}
	in := map[string]string{"room": "r1"}
	out := CloneMetadata(in)
	out["room"] = "r2"
	if in["room"] != "r1" {
		t.Fatalf("clone aliases input")
	}
}
