package main

import "testing"

func TestIdFromPathExtractsTrailingSegment(t *testing.T) {
	cases := map[string]string{
		"/ws/scan/abc-123":     "abc-123",
		"/ws/firmware/fw-9":    "fw-9",
		"/ws/global":           "global",
		"noslash":              "noslash",
	}
	for path, want := range cases {
		if got := idFromPath(path); got != want {
			t.Errorf("idFromPath(%q) = %q, want %q", path, got, want)
		}
	}
}
