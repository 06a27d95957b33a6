package docstore

import (
	"testing"
)

func TestParseDoc(t *testing.T) {
	tests := []struct {
		path       string
		parent     string
		collection string
		id         string
		wantErr    bool
	}{
		{"trades/t1", "trades", "trades", "t1", false},
		{"users/u1/connections/u1_u2", "users/u1/connections", "connections", "u1_u2", false},
		{"trades", "", "", "", true},
		{"users/u1/connections", "", "", "", true},
		{"", "", "", "", true},
		{"trades//x", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			ref, err := ParseDoc(tt.path)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseDoc(%q) should fail", tt.path)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDoc(%q) error = %v", tt.path, err)
			}
			if ref.Parent != tt.parent || ref.Collection != tt.collection || ref.ID != tt.id {
				t.Errorf("ParseDoc(%q) = %+v", tt.path, ref)
			}
		})
	}
}

func TestParentDoc(t *testing.T) {
	tests := map[string]string{
		"trades/t1/proposals/p1":      "trades/t1",
		"users/u1/connections/u1_u2": "users/u1",
		"trades/t1":                  "",
	}
	for path, want := range tests {
		if got := ParentDoc(path); got != want {
			t.Errorf("ParentDoc(%q) = %q, expected %q", path, got, want)
		}
	}
}

func TestCompareValues_Timestamps(t *testing.T) {
	// RFC 3339 strings with different precision must order chronologically
	halfPast := "2024-01-01T10:00:00.5Z"
	before := "2024-01-01T10:00:00.45Z"
	if compareValues(halfPast, before) <= 0 {
		t.Errorf("expected %s after %s", halfPast, before)
	}
	if compareValues(float64(1), float64(2)) >= 0 {
		t.Error("1 should sort before 2")
	}
	if compareValues(nil, "x") >= 0 {
		t.Error("nil should sort first")
	}
}
