package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTurnConstructors(t *testing.T) {
	user := NewUserTurn("hello")
	assert.Equal(t, RoleUser, user.Role)
	assert.Equal(t, "hello", user.Content)
	assert.NotEmpty(t, user.ID)
	assert.False(t, user.CreatedAt.IsZero())
	assert.Empty(t, user.ToolCallID)

	assistant := NewAssistantTurn("hi")
	assert.Equal(t, RoleAssistant, assistant.Role)

	toolTurn := NewToolTurn("call_1", "result")
	assert.Equal(t, RoleTool, toolTurn.Role)
	assert.Equal(t, "call_1", toolTurn.ToolCallID)

	assert.NotEqual(t, user.ID, assistant.ID)
}
