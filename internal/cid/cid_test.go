package cid

import (
	"errors"
	"testing"

	domerrors "github.com/RealLeviticus/vatpaccurrency/internal/errors"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"plain numeric", "1234567", "1234567", false},
		{"minimum length", "800", "800", false},
		{"maximum length", "1234567890", "1234567890", false},
		{"surrounding whitespace", " 1234567 ", "1234567", false},
		{"embedded separators", "1-234-567", "1234567", false},
		{"leading zeros stripped", "0001234567", "1234567", false},
		{"letters only", "abc", "", true},
		{"empty", "", "", true},
		{"too short", "42", "", true},
		{"too many digits", "12345678901", "", true},
		{"zeros collapse below minimum", "00012", "", true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Normalize(tt.input)
			if tt.wantErr {
				if !errors.Is(err, domerrors.ErrInvalidCID) {
					t.Errorf("Normalize(%q) error = %v, want ErrInvalidCID", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsCanonical(t *testing.T) {
	t.Parallel()

	if !IsCanonical("1234567") {
		t.Error("IsCanonical(1234567) = false, want true")
	}
	if IsCanonical("0123456") {
		t.Error("IsCanonical(0123456) = true, want false")
	}
	if IsCanonical("12") {
		t.Error("IsCanonical(12) = true, want false")
	}
}
