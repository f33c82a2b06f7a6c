package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                               "/",
		"/metrics":                       "/metrics",
		"/v1/scope":                      "/v1/scope",
		"/v1/providers/billing":          "/v1/providers/:stage",
		"/v1/providers/billing/retry":    "/v1/providers/:stage/retry",
		"/v1/selection":                  "/v1/selection",
		"/v1/scope/stream?selection=w-1": "/v1/scope/stream",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
