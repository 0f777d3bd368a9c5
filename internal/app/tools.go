package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/MrWong99/mockinterview/internal/catalog"
	"github.com/MrWong99/mockinterview/internal/interview"
	"github.com/MrWong99/mockinterview/internal/observe"
	"github.com/MrWong99/mockinterview/pkg/provider/voice"
)

// looseInt accepts 5, 5.0 and "5"; realtime models are not strict about
// argument types.
type looseInt int

func (n *looseInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", b)
	}
	*n = looseInt(f)
	return nil
}

type generateArgs struct {
	Role      string   `json:"role"`
	Level     string   `json:"level"`
	TechStack string   `json:"techstack"`
	Type      string   `json:"type"`
	Amount    looseInt `json:"amount"`
}

type toolResult struct {
	Success     bool   `json:"success"`
	InterviewID string `json:"interviewId,omitempty"`
	Error       string `json:"error,omitempty"`
}

// handleTool dispatches agent tool calls. Failures are reported to the agent
// as a JSON result so it can tell the user; only unknown tools are errors.
func (a *App) handleTool(ctx context.Context, call voice.ToolCall) (string, error) {
	log := observe.Logger(ctx).With("tool", call.Name)

	switch call.Name {
	case interview.GenerateInterviewTool:
		res := a.generateFromTool(ctx, call)
		status := "ok"
		if !res.Success {
			status = "error"
			log.Warn("tool call failed", "err", res.Error)
		} else {
			log.Info("interview generated by agent", "interview_id", res.InterviewID)
		}
		a.metrics.RecordToolCall(ctx, call.Name, status)
		out, err := json.Marshal(res)
		if err != nil {
			return "", fmt.Errorf("app: encode tool result: %w", err)
		}
		return string(out), nil
	default:
		a.metrics.RecordToolCall(ctx, call.Name, "unknown")
		return "", fmt.Errorf("app: unknown tool %q", call.Name)
	}
}

func (a *App) generateFromTool(ctx context.Context, call voice.ToolCall) toolResult {
	var args generateArgs
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return toolResult{Error: "invalid arguments: " + err.Error()}
	}
	iv, err := a.generator.Generate(ctx, catalog.GenerateRequest{
		UserID:    call.Variables["userid"],
		Role:      args.Role,
		Level:     args.Level,
		Type:      args.Type,
		TechStack: args.TechStack,
		Amount:    int(args.Amount),
	})
	if err != nil {
		return toolResult{Error: err.Error()}
	}
	return toolResult{Success: true, InterviewID: iv.ID}
}
