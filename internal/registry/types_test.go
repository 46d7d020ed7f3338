package registry

import (
	"testing"
	"time"
)

func TestParseDuration(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"empty", "", 0, false},
		{"bare seconds", "90", 90 * time.Second, false},
		{"single unit", "30s", 30 * time.Second, false},
		{"hours", "2h", 2 * time.Hour, false},
		{"compound", "1h 30m", 90 * time.Minute, false},
		{"compound with seconds", "1m 30s", 90 * time.Second, false},
		{"whitespace", "  45  ", 45 * time.Second, false},
		{"garbage", "soon", 0, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseDuration(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseDuration(%q) expected error, got %v", tc.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDuration(%q) unexpected error: %v", tc.input, err)
			}
			if got != tc.want {
				t.Fatalf("ParseDuration(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestSplitNames(t *testing.T) {
	got := SplitNames(" app , app-db ,, ")
	if len(got) != 2 || got[0] != "app" || got[1] != "app-db" {
		t.Fatalf("SplitNames returned %v", got)
	}

	if got := SplitNames(""); len(got) != 0 {
		t.Fatalf("SplitNames(\"\") returned %v", got)
	}
}
