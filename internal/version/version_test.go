package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	s := String()

	if !strings.HasPrefix(s, "order-service ") {
		t.Errorf("String should identify the service, got %q", s)
	}

	for _, field := range []string{"version=", "commit=", "date="} {
		if !strings.Contains(s, field) {
			t.Errorf("String should contain %q, got %q", field, s)
		}
	}
}
