package contentid

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"lowercase hex", strings.Repeat("a", 40), strings.Repeat("a", 40), false},
		{"digits", strings.Repeat("0123456789", 4), strings.Repeat("0123456789", 4), false},
		{"uppercase folded", strings.Repeat("ABCDEF1234", 4), strings.Repeat("abcdef1234", 4), false},
		{"mixed case", "DeadBeef" + strings.Repeat("0", 32), "deadbeef" + strings.Repeat("0", 32), false},
		{"empty", "", "", true},
		{"too short", strings.Repeat("a", 39), "", true},
		{"too long", strings.Repeat("a", 41), "", true},
		{"non-hex char", strings.Repeat("a", 39) + "g", "", true},
		{"whitespace", strings.Repeat("a", 39) + " ", "", true},
		{"path traversal", "../../etc/passwd" + strings.Repeat("a", 24), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Normalize(%q): expected error, got %q", tt.in, got)
				}
				if !errors.Is(err, ErrInvalid) {
					t.Errorf("error %v is not ErrInvalid", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize(%q): unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestValid(t *testing.T) {
	if !Valid(strings.Repeat("f", 40)) {
		t.Error("expected 40 f's to be valid")
	}
	if Valid(strings.Repeat("f", 40) + "\n") {
		t.Error("trailing newline must not be valid")
	}
}
