package server

import (
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeOrigins(t *testing.T) {
	normalized, allowAll := normalizeOrigins([]string{
		" HTTP://Example.COM ",
		"",
		"not an origin",
		"https://chat.example:8443",
	}, zerolog.Nop())

	assert.False(t, allowAll)
	assert.Equal(t, []string{"http://example.com", "https://chat.example:8443"}, normalized)

	_, allowAll = normalizeOrigins([]string{"*"}, zerolog.Nop())
	assert.True(t, allowAll)
}

func TestOriginPolicyAllows(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		header  string
		want    bool
	}{
		{"listed origin", []string{"http://localhost:8080"}, "http://localhost:8080", true},
		{"case differs", []string{"http://localhost:8080"}, "HTTP://LOCALHOST:8080", true},
		{"other port", []string{"http://localhost:8080"}, "http://localhost:9090", false},
		{"missing header", []string{"http://localhost:8080"}, "", false},
		{"wildcard", []string{"*"}, "https://anywhere.example", true},
		{"wildcard still needs a header", []string{"*"}, "", false},
		{"empty allow-list", nil, "http://localhost:8080", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := newOriginPolicy(tt.origins, zerolog.Nop())
			req := httptest.NewRequest("GET", "/ws", nil)
			if tt.header != "" {
				req.Header.Set("Origin", tt.header)
			}
			assert.Equal(t, tt.want, policy.allows(req))
		})
	}
}
