package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAction(t *testing.T) {
	t.Run("known actions", func(t *testing.T) {
		for _, a := range Actions() {
			got, err := ParseAction(string(a))
			require.NoError(t, err)
			assert.Equal(t, a, got)
		}
	})

	t.Run("unknown action", func(t *testing.T) {
		_, err := ParseAction("hibernate")
		assert.Error(t, err)
	})

	t.Run("grid variant keeps its exact wire form", func(t *testing.T) {
		got, err := ParseAction("selfConsumption - grid")
		require.NoError(t, err)
		assert.Equal(t, ActionSelfConsumeGrid, got)
	})
}

func TestActionSign(t *testing.T) {
	assert.Equal(t, -1.0, ActionCharge.Sign())
	assert.Equal(t, 1.0, ActionDischarge.Sign())
	assert.Equal(t, 0.0, ActionIdle.Sign())
	assert.Equal(t, 0.0, ActionSelfConsume.Sign())
	assert.Equal(t, 0.0, ActionSelfConsumeGrid.Sign())
}

func TestActionDischarging(t *testing.T) {
	assert.True(t, ActionDischarge.Discharging())
	assert.True(t, ActionSelfConsume.Discharging())
	assert.True(t, ActionSelfConsumeGrid.Discharging())
	assert.False(t, ActionCharge.Discharging())
	assert.False(t, ActionIdle.Discharging())
}

func TestActionJSON(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		b, err := json.Marshal(ActionSelfConsumeGrid)
		require.NoError(t, err)
		assert.Equal(t, `"selfConsumption - grid"`, string(b))

		var a Action
		require.NoError(t, json.Unmarshal(b, &a))
		assert.Equal(t, ActionSelfConsumeGrid, a)
	})

	t.Run("rejects unknown", func(t *testing.T) {
		var a Action
		assert.Error(t, json.Unmarshal([]byte(`"boost"`), &a))
	})
}
