package websocket

import (
	"net/http/httptest"
	"testing"
)

func TestOriginChecker(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"configured origin", []string{"http://localhost:5173"}, "http://localhost:5173", true},
		{"case insensitive", []string{"http://Dash.Example.com"}, "http://dash.example.com", true},
		{"unlisted origin", []string{"http://localhost:5173"}, "http://evil.example", false},
		{"no origin header", []string{"http://localhost:5173"}, "", true},
		{"wildcard", []string{"*"}, "http://anything.example", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := originChecker(tt.allowed)(req); got != tt.want {
				t.Errorf("origin %q against %v: got %v, want %v", tt.origin, tt.allowed, got, tt.want)
			}
		})
	}
}
