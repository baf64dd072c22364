package node

import "testing"

func TestNormalizeBaseURL(t *testing.T) {
	for in, want := range map[string]string{
		"localhost:9181/api/v0":         "http://localhost:9181/api/v0",
		"http://localhost:9181/api/v0/": "http://localhost:9181/api/v0",
		"https://node.example:443":      "https://node.example:443",
		" http://10.0.0.1:9181 ":        "http://10.0.0.1:9181",
	} {
		u, err := NormalizeBaseURL(in)
		if err != nil {
			t.Fatalf("NormalizeBaseURL(%q) error: %v", in, err)
		}
		if got := u.String(); got != want {
			t.Fatalf("NormalizeBaseURL(%q) = %q, want %q", in, got, want)
		}
	}

	for _, bad := range []string{"", "http://", "http:///api/v0"} {
		if _, err := NormalizeBaseURL(bad); err == nil {
			t.Fatalf("NormalizeBaseURL(%q) succeeded, want error", bad)
		}
	}
}

func TestNormalizeHostPort(t *testing.T) {
	for in, want := range map[string]string{
		"http://node1:9181/api/v0": "node1:9181",
		"https://node2":            "node2:9181",
		"node3:1234":               "node3:1234",
	} {
		if got := NormalizeHostPort(in, "9181"); got != want {
			t.Fatalf("NormalizeHostPort(%q) = %q, want %q", in, got, want)
		}
	}
}
