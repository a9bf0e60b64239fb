package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
)

func TestListLimit(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"no query param defaults", "", defaultListLimit},
		{"valid override", "?limit=10", 10},
		{"zero ignored", "?limit=0", defaultListLimit},
		{"negative ignored", "?limit=-5", defaultListLimit},
		{"non-numeric ignored", "?limit=abc", defaultListLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/"+tt.query, nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			assert.Equal(t, tt.want, listLimit(c))
		})
	}
}
