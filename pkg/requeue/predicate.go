// Package requeue holds the two requeuers that move failed and blocked
// tasks back into the queue under cooldown, classification, and
// reason-specific recovery rules.
package requeue

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/cyclemanager/cyclemanager/pkg/taskmodel"
)

const (
	prReviewGoalPrefix   = "Review and process open PR #"
	prReviewTitlePrefix  = "[PR] Review #"
	autoFixTitlePrefix   = "[AutoFix]"
	autoFixConflictTitlePrefix = "[AutoFix-Conflict] PR #"
	reworkTitlePrefix    = "[Rework]"
	reworkVerifyTitlePrefix = "[Rework-Verify]"
	verifyReworkMarker   = "[verify-rework-json]"
)

// IsPRReviewTask reports whether a task is one of the recurring PR-review
// tasks the Judge drives through awaiting_judge, via any of its documented
// recognition signals.
func IsPRReviewTask(t taskmodel.Task) bool {
	if strings.HasPrefix(t.Goal, prReviewGoalPrefix) {
		return true
	}
	if strings.HasPrefix(t.Title, prReviewTitlePrefix) {
		return true
	}
	if t.Context.PR != nil && t.Context.PR.Number != 0 {
		return true
	}
	return t.Context.ImportedFromPRBacklog
}

// IsConflictAutofixTask reports whether a task is a merge-conflict autofix
// task spawned against a PR-review task.
func IsConflictAutofixTask(t taskmodel.Task) bool {
	return strings.HasPrefix(t.Title, autoFixConflictTitlePrefix)
}

// isAutoFixFamilyTitle reports whether a title belongs to either AutoFix
// variant, used to detect an in-flight autofix task for a PR.
func isAutoFixFamilyTitle(title string) bool {
	return strings.HasPrefix(title, autoFixTitlePrefix) || strings.HasPrefix(title, autoFixConflictTitlePrefix)
}

// ActiveAutoFixExistsForPR reports whether any of the given active,
// title-matched tasks targets the same PR number as prNumber.
func ActiveAutoFixExistsForPR(candidates []taskmodel.Task, prNumber int) bool {
	for _, c := range candidates {
		if !isAutoFixFamilyTitle(c.Title) {
			continue
		}
		if c.Context.PR != nil && c.Context.PR.Number == prNumber {
			return true
		}
	}
	return false
}

// VerifyReworkPayload is the structured content a worker may leave behind
// in a task's context notes to request that its rework sibling carry over
// verification-failure detail.
type VerifyReworkPayload struct {
	FailedCommand string `json:"failedCommand,omitempty"`
	Source        string `json:"source,omitempty"`
	Stderr        string `json:"stderr,omitempty"`
}

// ExtractVerifyReworkMarker looks for a "[verify-rework-json]<urlencoded
// json>" marker in notes, returning the decoded payload, whether one was
// found, and notes with the marker line stripped.
func ExtractVerifyReworkMarker(notes string) (VerifyReworkPayload, bool, string) {
	idx := strings.Index(notes, verifyReworkMarker)
	if idx < 0 {
		return VerifyReworkPayload{}, false, notes
	}

	rest := notes[idx+len(verifyReworkMarker):]
	end := strings.IndexAny(rest, "\r\n")
	var encoded, tail string
	if end < 0 {
		encoded = rest
	} else {
		encoded = rest[:end]
		tail = rest[end:]
	}

	decoded, err := url.QueryUnescape(encoded)
	if err != nil {
		return VerifyReworkPayload{}, false, notes
	}
	var payload VerifyReworkPayload
	if err := json.Unmarshal([]byte(decoded), &payload); err != nil {
		return VerifyReworkPayload{}, false, notes
	}

	stripped := strings.TrimRight(notes[:idx], "\r\n \t") + tail
	return payload, true, strings.TrimSpace(stripped)
}

// ReworkTitle builds the sibling rework task's title, prefixing with
// "[Rework-Verify]" when a verify marker was present, "[Rework]"
// otherwise, and never double-prefixing an already-prefixed title.
func ReworkTitle(original string, hasVerifyMarker bool) string {
	if strings.HasPrefix(original, reworkTitlePrefix) || strings.HasPrefix(original, reworkVerifyTitlePrefix) {
		return original
	}
	if hasVerifyMarker {
		return reworkVerifyTitlePrefix + " " + original
	}
	return reworkTitlePrefix + " " + original
}
