package messagequeue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation
// (future-proof for new message types).
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	var target any
	switch {
	case subject == SubjectRunStart:
		var p RunStartPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.RunID == "" {
			return fmt.Errorf("schema validation failed for %s: %w", subject, errors.New("run_id is required"))
		}
		if !p.ActiveAgent.Valid() {
			return fmt.Errorf("schema validation failed for %s: unknown agent %q", subject, p.ActiveAgent)
		}
		return nil
	case subject == SubjectWorkspaceChanged:
		var p WorkspaceChangedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.WorkspaceID == "" {
			return fmt.Errorf("schema validation failed for %s: %w", subject, errors.New("workspace_id is required"))
		}
		return nil
	case subject == SubjectRunCancel:
		target = &RunCancelPayload{}
	case subject == SubjectTurnCompleted:
		target = &TurnCompletedPayload{}
	case subject == SubjectTurnFailed:
		target = &TurnFailedPayload{}
	case strings.HasPrefix(subject, liveSubjectPrefix) && strings.HasSuffix(subject, ".events"):
		target = &RunEventPayload{}
	case strings.HasPrefix(subject, liveSubjectPrefix) && strings.HasSuffix(subject, ".tools"):
		target = &ToolCallRequestPayload{}
	default:
		return nil
	}

	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	return nil
}
