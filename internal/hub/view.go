package hub

import (
	"github.com/ulfur/nightshift/internal/external"
	"github.com/ulfur/nightshift/internal/promptdomain"
)

// BuildPromptPayload merges a core Prompt record with project lookups
// before broadcast, the single place per spec.md §9's "Dynamic payloads"
// note where view-specific fields get attached. Grounded on
// original_source/backend/server.py's build_prompt_payload.
func BuildPromptPayload(p promptdomain.Prompt, reg external.ProjectRegistry) map[string]any {
	payload := map[string]any{
		"id":               p.ID,
		"text":             p.Text,
		"project_id":       p.Project,
		"reply_to":         p.ReplyTo,
		"status":           string(p.Status),
		"attempt":          p.Attempt,
		"created_at":       p.CreatedAt,
		"updated_at":       p.UpdatedAt,
		"enqueued_at":      p.EnqueuedAt,
		"started_at":       p.StartedAt,
		"last_finished_at": p.FinishedAt,
		"last_wait_seconds": p.LastWaitSeconds,
		"last_run_seconds":  p.LastRunSeconds,
		"result_summary":    p.ResultSummary,
	}

	if p.Project != "" && reg != nil {
		if proj, err := reg.Resolve(p.Project); err == nil {
			payload["project_path"] = proj.Path
		}
	}

	return payload
}
