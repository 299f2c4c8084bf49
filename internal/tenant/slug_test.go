package tenant

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubdomainSlug(t *testing.T) {
	tests := []struct {
		name   string
		suffix string
		host   string
		want   string
	}{
		{"suffix match", "app.example.com", "acme.app.example.com", "acme"},
		{"suffix with port", "app.example.com", "acme.app.example.com:8443", "acme"},
		{"suffix case", "app.example.com", "ACME.App.Example.com", "acme"},
		{"www prefix", "app.example.com", "www.acme.app.example.com", "acme"},
		{"nested labels", "app.example.com", "eu.acme.app.example.com", "eu"},
		{"bare suffix", "app.example.com", "app.example.com", ""},
		{"foreign host", "app.example.com", "acme.other.com", ""},
		{"no suffix three labels", "", "acme.example.com", "acme"},
		{"no suffix two labels", "", "example.com", ""},
		{"localhost", "", "localhost:8080", ""},
		{"trailing dot", "example.com", "acme.example.com.", "acme"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SubdomainSlug(tt.suffix)(tt.host))
		})
	}
}
