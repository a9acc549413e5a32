package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/convoloop/convoloop/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFactories lets every contract test run against both implementations.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"in_memory": func(t *testing.T) Store {
			return NewInMemoryStore()
		},
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func TestStoreAppendAndRead(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)

			turns := []core.Turn{
				core.NewUserTurn("hello"),
				core.NewAssistantTurn("hi there"),
				core.NewUserTurn("do you have chicken fillet?"),
			}
			for _, turn := range turns {
				require.NoError(t, s.Append(ctx, "79001112233", turn))
			}

			got, err := s.Read(ctx, "79001112233", 0)
			require.NoError(t, err)
			require.Len(t, got, 3)
			for i := range turns {
				assert.Equal(t, turns[i].ID, got[i].ID)
				assert.Equal(t, turns[i].Role, got[i].Role)
				assert.Equal(t, turns[i].Content, got[i].Content)
			}
		})
	}
}

func TestStoreReadLimitReturnsMostRecentChronological(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)

			for i := 0; i < 5; i++ {
				require.NoError(t, s.Append(ctx, "k", core.NewUserTurn(fmt.Sprintf("msg-%d", i))))
			}

			got, err := s.Read(ctx, "k", 2)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "msg-3", got[0].Content)
			assert.Equal(t, "msg-4", got[1].Content)

			// Limit larger than the log returns everything.
			all, err := s.Read(ctx, "k", 100)
			require.NoError(t, err)
			assert.Len(t, all, 5)
		})
	}
}

func TestStoreUnknownKeyIsEmptyNotError(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			got, err := s.Read(context.Background(), "never-seen", 10)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestStoreRoundTripsAssistantToolCalls(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)

			calls := []core.ToolCall{{
				ID:        "call_1",
				Name:      "search_products",
				Arguments: json.RawMessage(`{"query":"chicken fillet"}`),
			}}
			require.NoError(t, s.Append(ctx, "k", core.NewAssistantToolCallTurn("", calls)))
			require.NoError(t, s.Append(ctx, "k", core.NewToolTurn("call_1", "in stock")))

			got, err := s.Read(ctx, "k", 0)
			require.NoError(t, err)
			require.Len(t, got, 2)
			require.Len(t, got[0].ToolCalls, 1)
			assert.Equal(t, calls[0].ID, got[0].ToolCalls[0].ID)
			assert.Equal(t, calls[0].Name, got[0].ToolCalls[0].Name)
			assert.JSONEq(t, string(calls[0].Arguments), string(got[0].ToolCalls[0].Arguments))
			assert.Empty(t, got[1].ToolCalls)
			assert.Equal(t, "call_1", got[1].ToolCallID)
		})
	}
}

func TestStoreAppendIsIdempotentOnTurnID(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)

			turn := core.NewUserTurn("once")
			require.NoError(t, s.Append(ctx, "k", turn))
			require.NoError(t, s.Append(ctx, "k", turn)) // redelivery

			got, err := s.Read(ctx, "k", 0)
			require.NoError(t, err)
			assert.Len(t, got, 1)
		})
	}
}

func TestStoreClear(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)

			require.NoError(t, s.Append(ctx, "k", core.NewUserTurn("hello")))
			require.NoError(t, s.Clear(ctx, "k"))

			got, err := s.Read(ctx, "k", 0)
			require.NoError(t, err)
			assert.Empty(t, got)

			// The key stays usable after a clear.
			require.NoError(t, s.Append(ctx, "k", core.NewUserTurn("again")))
			got, err = s.Read(ctx, "k", 0)
			require.NoError(t, err)
			assert.Len(t, got, 1)
		})
	}
}

func TestStoreKeysAreIsolated(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)

			require.NoError(t, s.Append(ctx, "a", core.NewUserTurn("for a")))
			require.NoError(t, s.Append(ctx, "b", core.NewUserTurn("for b")))
			require.NoError(t, s.Clear(ctx, "a"))

			got, err := s.Read(ctx, "b", 0)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "for b", got[0].Content)
		})
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "persist.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	turn := core.NewAssistantTurn("durable")
	require.NoError(t, s.Append(ctx, "k", turn))
	require.NoError(t, s.Close())

	s2, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Read(ctx, "k", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, turn.ID, got[0].ID)
	assert.Equal(t, "durable", got[0].Content)
}
