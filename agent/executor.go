package agent

import (
	"context"
	"errors"
	"time"

	"github.com/convoloop/convoloop/core"
	"github.com/convoloop/convoloop/model"
	"github.com/convoloop/convoloop/tool"
	"golang.org/x/sync/errgroup"
)

// correctionInstruction is sent once after a malformed model response before
// the loop gives up on parse errors.
const correctionInstruction = "Your previous reply was malformed and could not be processed. " +
	"Reply again with either plain text for the user or well-formed tool calls."

// execution is the per-request state of one reasoning loop: the accumulated
// scratchpad of tool exchanges and the turns to persist on completion. It
// never outlives the request.
type execution struct {
	session  *Session
	key      string
	userText string

	scratchpad []model.Message
	toolTurns  []core.Turn
	degraded   bool
}

// execute drives the loop: build prompt, call model, dispatch requested
// tools, fold results, repeat until a final answer, the iteration cap or the
// deadline. It always produces a completed Reply.
func (e *execution) execute(ctx context.Context) core.Reply {
	s := e.session
	userTurn := core.NewUserTurn(e.userText)

	base := e.loadHistory(ctx)
	base = append(base, model.Message{Role: core.RoleUser, Content: e.userText})

	toolDefs := e.toolDefinitions()
	reprompted := false

	for iter := 1; iter <= s.opts.MaxIterations; iter++ {
		if ctx.Err() != nil {
			s.logger.Warn("agent.run.deadline", "key", e.key, "iteration", iter)
			return e.abort(ctx, userTurn)
		}

		req := model.Request{
			Instructions: s.opts.Instructions,
			Messages:     append(append([]model.Message{}, base...), e.scratchpad...),
			Tools:        toolDefs,
		}

		resp, err := e.callModel(ctx, req)
		if err != nil {
			var parseErr *model.ParseError
			if errors.As(err, &parseErr) && !reprompted {
				s.logger.Warn("agent.run.reprompt", "key", e.key, "reason", parseErr.Reason)
				e.scratchpad = append(e.scratchpad, model.Message{
					Role:    core.RoleUser,
					Content: correctionInstruction,
				})
				reprompted = true
				continue
			}
			if ctx.Err() != nil {
				return e.abort(ctx, userTurn)
			}
			s.logger.Error("agent.run.model_unreachable", "key", e.key, "error", err.Error())
			return core.Reply{Text: s.opts.FallbackReply, Status: core.StatusFailed}
		}

		if len(resp.ToolCalls) == 0 {
			e.persistTurns(ctx, userTurn, core.NewAssistantTurn(resp.Text))
			status := core.StatusOK
			if e.degraded {
				status = core.StatusDegraded
			}
			s.logger.Info("agent.run.final",
				"key", e.key,
				"iterations", iter,
				"tool_turns", len(e.toolTurns),
				"status", string(status),
			)
			return core.Reply{Text: resp.Text, Status: status}
		}

		e.dispatchToolBatch(ctx, resp)
	}

	s.logger.Warn("agent.run.iteration_cap", "key", e.key, "max", s.opts.MaxIterations)
	return e.abort(ctx, userTurn)
}

// loadHistory reads the bounded recent history through the memory wrapper.
// A store outage degrades to an empty history rather than failing the run.
func (e *execution) loadHistory(ctx context.Context) []model.Message {
	s := e.session
	result, err := s.memoryWrap.Execute(ctx, true, func(ctx context.Context) (any, error) {
		return s.store.Read(ctx, e.key, s.opts.HistoryLimit)
	})
	if err != nil {
		s.logger.Warn("agent.run.history_unavailable", "key", e.key, "error", err.Error())
		e.degraded = true
		return nil
	}

	turns := result.([]core.Turn)
	msgs := make([]model.Message, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, model.Message{
			Role:       t.Role,
			Content:    t.Content,
			ToolCalls:  t.ToolCalls,
			ToolCallID: t.ToolCallID,
		})
	}
	return msgs
}

// toolDefinitions renders the registry catalog for the model request.
func (e *execution) toolDefinitions() []model.ToolDefinition {
	defs := e.session.tools.Definitions()
	out := make([]model.ToolDefinition, len(defs))
	for i, d := range defs {
		out[i] = model.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.InputSchema,
		}
	}
	return out
}

// callModel invokes the model through its resilience wrapper and fires the
// OnModelCall hook.
func (e *execution) callModel(ctx context.Context, req model.Request) (model.Response, error) {
	s := e.session
	start := time.Now()
	result, err := s.modelWrap.Execute(ctx, true, func(ctx context.Context) (any, error) {
		return s.model.Generate(ctx, req)
	})

	var resp model.Response
	if err == nil {
		resp = result.(model.Response)
	}
	if s.opts.Hooks.OnModelCall != nil {
		s.opts.Hooks.OnModelCall(e.key, req, resp, err, time.Since(start))
	}
	return resp, err
}

// dispatchToolBatch invokes every tool call from one model response. Sibling
// calls run concurrently; the loop does not advance until each has reached a
// terminal status. Failed and timed-out invocations are folded into the
// scratchpad as tool messages carrying the error description.
func (e *execution) dispatchToolBatch(ctx context.Context, resp model.Response) {
	s := e.session
	invocations := make([]tool.Invocation, len(resp.ToolCalls))

	var g errgroup.Group
	for i, tc := range resp.ToolCalls {
		g.Go(func() error {
			invocations[i] = s.tools.Invoke(ctx, tc.Name, tc.Arguments)
			return nil
		})
	}
	_ = g.Wait() // invocations never surface errors; failures are data

	e.scratchpad = append(e.scratchpad, model.Message{
		Role:      core.RoleAssistant,
		Content:   resp.Text,
		ToolCalls: resp.ToolCalls,
	})
	// The declaring assistant turn is persisted ahead of its results so a
	// later history replay never hands the provider an orphaned tool result.
	e.toolTurns = append(e.toolTurns, core.NewAssistantToolCallTurn(resp.Text, resp.ToolCalls))
	for i, tc := range resp.ToolCalls {
		inv := invocations[i]
		if s.opts.Hooks.OnToolCall != nil {
			s.opts.Hooks.OnToolCall(e.key, inv)
		}
		if inv.Status != tool.StatusSucceeded {
			e.degraded = true
		}
		text := inv.ResultText()
		e.scratchpad = append(e.scratchpad, model.Message{
			Role:       core.RoleTool,
			Content:    text,
			ToolCallID: tc.ID,
			ToolName:   tc.Name,
		})
		e.toolTurns = append(e.toolTurns, core.NewToolTurn(tc.ID, text))
	}
}

// abort ends the run with the deterministic fallback reply, persisting what
// the conversation actually saw.
func (e *execution) abort(ctx context.Context, userTurn core.Turn) core.Reply {
	e.persistTurns(ctx, userTurn, core.NewAssistantTurn(e.session.opts.FallbackReply))
	return core.Reply{Text: e.session.opts.FallbackReply, Status: core.StatusDegraded}
}

// persistTurns appends the user turn, the intermediate tool exchanges (each
// assistant tool-call turn followed by its result turns) and the final
// assistant turn in loop order. Persistence survives request cancellation so
// a reply already produced is not lost from history; append failures are
// logged, never raised to the user.
func (e *execution) persistTurns(ctx context.Context, userTurn, assistantTurn core.Turn) {
	s := e.session
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	turns := make([]core.Turn, 0, len(e.toolTurns)+2)
	turns = append(turns, userTurn)
	turns = append(turns, e.toolTurns...)
	turns = append(turns, assistantTurn)

	for _, t := range turns {
		_, err := s.memoryWrap.Execute(persistCtx, true, func(ctx context.Context) (any, error) {
			return nil, s.store.Append(ctx, e.key, t)
		})
		if err != nil {
			s.logger.Error("agent.run.persist_failed", "key", e.key, "turn", t.ID, "error", err.Error())
			return
		}
	}
}
