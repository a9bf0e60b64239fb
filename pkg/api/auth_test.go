package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
)

func TestBearerAuth(t *testing.T) {
	const apiKey = "s3cr3t"

	tests := []struct {
		name      string
		header    string
		wantError bool
	}{
		{"valid token", "Bearer s3cr3t", false},
		{"wrong token", "Bearer wrong", true},
		{"missing prefix", "s3cr3t", true},
		{"empty header", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			called := false
			handler := bearerAuth(apiKey)(func(c *echo.Context) error {
				called = true
				return nil
			})
			err := handler(c)

			if tt.wantError {
				assert.Error(t, err)
				assert.False(t, called)
			} else {
				assert.NoError(t, err)
				assert.True(t, called)
			}
		})
	}
}
