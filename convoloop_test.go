package convoloop

import (
	"context"
	"testing"

	"github.com/convoloop/convoloop/agent"
	"github.com/convoloop/convoloop/core"
	"github.com/convoloop/convoloop/model"
	"github.com/convoloop/convoloop/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFacadeEndToEnd(t *testing.T) {
	ctx := context.Background()
	c := New()
	defer c.Close()

	require.NoError(t, c.RegisterTool(tool.Definition{
		Name:        "ping",
		Description: "Answers pong.",
		Idempotent:  true,
		Handler: func(context.Context, map[string]any) (any, error) {
			return "pong", nil
		},
	}))

	mock := model.NewMockModel().Enqueue(model.Response{Text: "hello!", FinishReason: "stop"})
	require.NoError(t, c.RegisterAgent("demo", mock))

	reply, err := c.Run(ctx, "demo", "79001112233", "hi")
	require.NoError(t, err)
	assert.Equal(t, core.StatusOK, reply.Status)
	assert.Equal(t, "hello!", reply.Text)

	require.NoError(t, c.Clear(ctx, "demo", "79001112233"))
}

func TestFacadeUnknownAgentType(t *testing.T) {
	c := New()
	defer c.Close()

	reply, err := c.Run(context.Background(), "ghost", "key", "hi")
	var unknownErr *agent.UnknownTypeError
	assert.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, core.StatusFailed, reply.Status)
}
