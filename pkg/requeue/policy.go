package requeue

import (
	"path"
	"regexp"
	"strings"

	"github.com/cyclemanager/cyclemanager/pkg/taskmodel"
)

var violationPathMessagePattern = regexp.MustCompile(
	`(?i)(?:outside (?:the )?allowed path[s]?:?\s*|not in allowed.?paths:?\s*)([^\s,;]+)`,
)

// ExtractViolationPaths recovers the set of out-of-policy paths a failed
// run reported, preferring the structured policyViolations list and
// falling back to pattern-matching the free-form error message.
func ExtractViolationPaths(errorMessage string, errorMeta *taskmodel.RunErrorMeta) []string {
	if errorMeta != nil && len(errorMeta.PolicyViolations) > 0 {
		out := make([]string, 0, len(errorMeta.PolicyViolations))
		for _, v := range errorMeta.PolicyViolations {
			if v.Path != "" {
				out = append(out, v.Path)
			}
		}
		return out
	}

	matches := violationPathMessagePattern.FindAllStringSubmatch(errorMessage, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.Trim(m[1], `"'`+"`"))
	}
	return out
}

// autoAllowHints expands a violation path into the set of candidate
// allowances: the path itself, and its immediate parent directory, a
// command-driven hint that tolerates a worker touching sibling files under
// the same directory it was already reported to need.
func autoAllowHints(violationPath string) []string {
	clean := path.Clean(violationPath)
	hints := []string{clean}
	if dir := path.Dir(clean); dir != "." && dir != "/" && dir != clean {
		hints = append(hints, dir)
	}
	return hints
}

func isAlreadyAllowed(candidate string, allowed []string) bool {
	for _, a := range allowed {
		if a == candidate || strings.HasPrefix(candidate, strings.TrimSuffix(a, "/")+"/") {
			return true
		}
	}
	return false
}

// AdjustAllowedPathsForPolicyViolation computes the merged allowedPaths
// set after auto-allowing the paths a policy-violation failure reported
// outside the task's current allowance. Returns the merged set and
// whether it grew.
func AdjustAllowedPathsForPolicyViolation(task taskmodel.Task, errorMessage string, errorMeta *taskmodel.RunErrorMeta) ([]string, bool) {
	violations := ExtractViolationPaths(errorMessage, errorMeta)
	if len(violations) == 0 {
		return task.AllowedPaths, false
	}

	merged := append([]string(nil), task.AllowedPaths...)
	added := false
	for _, v := range violations {
		for _, hint := range autoAllowHints(v) {
			if isAlreadyAllowed(hint, merged) {
				continue
			}
			merged = append(merged, hint)
			added = true
		}
	}
	return merged, added
}
