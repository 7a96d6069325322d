package origin

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in       string
		want     string
		wantHost string
		ok       bool
	}{
		{"https://Example.COM", "https://example.com", "example.com", true},
		{"https://example.com:443", "https://example.com", "example.com", true},
		{"http://example.com:80/", "http://example.com", "example.com", true},
		{"http://example.com:8080", "http://example.com:8080", "example.com:8080", true},
		{"https://[::1]:9000", "https://[::1]:9000", "[::1]:9000", true},
		{"null", "null", "", true},
		{"", "", "", false},
		{"ftp://example.com", "", "", false},
		{"https://user@example.com", "", "", false},
		{"https://example.com/path", "", "", false},
		{"https://example.com?q=1", "", "", false},
		{"https://example.com:0", "", "", false},
		{"https://example.com:70000", "", "", false},
		{"example.com", "", "", false},
	}
	for _, tc := range cases {
		got, host, ok := Normalize(tc.in)
		if ok != tc.ok || got != tc.want || host != tc.wantHost {
			t.Fatalf("Normalize(%q)=(%q,%q,%v), want (%q,%q,%v)", tc.in, got, host, ok, tc.want, tc.wantHost, tc.ok)
		}
	}
}

func TestAllowed(t *testing.T) {
	cases := []struct {
		name        string
		origin      string
		requestHost string
		allow       []string
		want        bool
	}{
		{"same host", "https://cam.example", "cam.example", nil, true},
		{"same host default port", "https://cam.example", "cam.example:443", nil, true},
		{"scheme ignored", "https://cam.example:8080", "cam.example:8080", nil, true},
		{"different host", "https://evil.example", "cam.example", nil, false},
		{"null origin", "null", "cam.example", nil, false},
		{"allow list hit", "https://ui.example", "cam.example", []string{"https://ui.example"}, true},
		{"allow list miss", "https://cam.example", "cam.example", []string{"https://ui.example"}, false},
		{"wildcard", "https://anything.example", "cam.example", []string{"*"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			normalized, host, ok := Normalize(tc.origin)
			if !ok {
				t.Fatalf("Normalize(%q) failed", tc.origin)
			}
			if got := Allowed(normalized, host, tc.requestHost, tc.allow); got != tc.want {
				t.Fatalf("Allowed=%v, want %v", got, tc.want)
			}
		})
	}
}

func FuzzNormalize(f *testing.F) {
	for _, seed := range []string{"https://example.com", "http://[::1]:80", "null", "https://a:b:c"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, in string) {
		normalized, host, ok := Normalize(in)
		if !ok || normalized == "null" {
			return
		}
		if !strings.HasSuffix(normalized, "://"+host) {
			t.Fatalf("Normalize(%q)=(%q,%q): host is not the authority", in, normalized, host)
		}
		if !Allowed(normalized, host, host, nil) {
			t.Fatalf("origin %q not allowed on its own host", normalized)
		}
	})
}
