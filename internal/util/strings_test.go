package util

import "testing"

func TestSafeTruncate(t *testing.T) {
	cases := []struct {
		in     string
		maxLen int
		want   string
	}{
		{"mid_access_token_abc123", 8, "mid_acce"},
		{"short", 8, "short"},
		{"exact", 5, "exact"},
		{"", 8, ""},
		{"anything", 0, ""},
		{"anything", -1, ""},
	}
	for _, tc := range cases {
		if got := SafeTruncate(tc.in, tc.maxLen); got != tc.want {
			t.Errorf("SafeTruncate(%q, %d) = %q, want %q", tc.in, tc.maxLen, got, tc.want)
		}
	}
}
