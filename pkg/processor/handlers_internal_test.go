package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fuel-code/server/pkg/domain"
)

func TestStringField(t *testing.T) {
	m := map[string]any{"branch": "main", "count": float64(3)}
	assert.Equal(t, "main", stringField(m, "branch"))
	assert.Equal(t, "", stringField(m, "missing"))
	assert.Equal(t, "", stringField(m, "count"))
}

func TestResolveCanonicalID(t *testing.T) {
	assert.Equal(t, domain.UnassociatedWorkspaceID, resolveCanonicalID(""))
	assert.Equal(t, "github.com/acme/widgets", resolveCanonicalID("github.com/acme/widgets"))
}
