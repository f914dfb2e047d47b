package browser

import (
	"context"
	"fmt"

	"github.com/jonathan/open-outreach/internal/touchpoint"
)

// Execute implements touchpoint.Executor. It resolves the handle's session
// and dispatches to the action for the touchpoint type. On action failure it
// captures a screenshot so the run records what the page looked like.
func (m *Manager) Execute(ctx context.Context, handle string, tpType touchpoint.Type, input map[string]any) (*touchpoint.Result, error) {
	acc, err := m.accounts.GetAccount(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("failed to load account %s: %w", handle, err)
	}
	if acc == nil {
		return nil, fmt.Errorf("account %s not found", handle)
	}

	s, err := m.getSession(ctx, acc)
	if err != nil {
		return nil, err
	}

	data, err := m.dispatch(ctx, s, tpType, input)
	if err != nil {
		shot := m.captureFailure(ctx, s, strField(input, "run_id"))
		return &touchpoint.Result{Screenshot: shot}, err
	}
	return &touchpoint.Result{Data: data}, nil
}

func (m *Manager) dispatch(ctx context.Context, s *session, tpType touchpoint.Type, input map[string]any) (map[string]any, error) {
	switch tpType {
	case touchpoint.TypeProfileEnrich:
		return s.enrichProfile(ctx, profileURLFromInput(input))
	case touchpoint.TypeProfileVisit:
		return s.visitProfile(ctx, strField(input, "url"),
			floatField(input, "duration_s", 5.0), intField(input, "scroll_depth", 3))
	case touchpoint.TypeConnect:
		return s.connect(ctx, profileURLFromInput(input), strField(input, "note"))
	case touchpoint.TypeDirectMessage:
		return s.directMessage(ctx, strField(input, "url"), strField(input, "message"))
	case touchpoint.TypePostReact:
		return s.reactToPost(ctx, strField(input, "post_url"), strField(input, "reaction"))
	case touchpoint.TypePostComment:
		return s.commentOnPost(ctx, strField(input, "post_url"), strField(input, "comment_text"))
	case touchpoint.TypeInMail:
		return s.sendInMail(ctx, strField(input, "profile_url"),
			strField(input, "subject"), strField(input, "body"))
	default:
		return nil, fmt.Errorf("unsupported touchpoint type: %s", tpType)
	}
}

// profileURLFromInput resolves a profile URL from either an explicit url or
// a bare public_identifier. Inputs are schema-validated upstream, so at
// least one is present.
func profileURLFromInput(input map[string]any) string {
	if url := strField(input, "url"); url != "" {
		return url
	}
	if id := strField(input, "public_identifier"); id != "" {
		return "https://www.linkedin.com/in/" + id + "/"
	}
	return ""
}

func strField(input map[string]any, key string) string {
	if v, ok := input[key].(string); ok {
		return v
	}
	return ""
}

func floatField(input map[string]any, key string, fallback float64) float64 {
	switch v := input[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return fallback
	}
}

func intField(input map[string]any, key string, fallback int) int {
	switch v := input[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return fallback
	}
}
