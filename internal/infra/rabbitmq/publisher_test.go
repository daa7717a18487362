package rabbitmq

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope(t *testing.T) {
	env := NewEnvelope("order.status_changed", map[string]any{"orderId": 7})

	_, err := uuid.Parse(env.ID)
	require.NoError(t, err)
	assert.Equal(t, "order.status_changed", env.Pattern)
	assert.False(t, env.OccurredAt.IsZero())

	body, err := json.Marshal(env)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"pattern":"order.status_changed"`)
	assert.Contains(t, string(body), `"orderId":7`)
}

func TestNewEnvelope_UniqueIDs(t *testing.T) {
	a := NewEnvelope("order.created", nil)
	b := NewEnvelope("order.created", nil)

	assert.NotEqual(t, a.ID, b.ID)
}
