package requeue

import (
	"regexp"
	"strings"

	"github.com/cyclemanager/cyclemanager/pkg/classifier"
	"github.com/cyclemanager/cyclemanager/pkg/taskmodel"
)

var dropFailedCommandReasons = map[string]bool{
	classifier.ReasonMissingScript:     true,
	classifier.ReasonUnsupportedFormat: true,
	classifier.ReasonMissingMakeTarget: true,
}

var artifactCheckPattern = regexp.MustCompile(`^\s*test\s+-[fs]\s+(\S+)\s*$`)
var cleanLikeCommandPattern = regexp.MustCompile(`(?i)\bclean\b`)
var generatedArtifactSegmentPattern = regexp.MustCompile(`(?i)(^|/)(build|dist|out|target)(/|$)`)

// AdjustCommandsForVerificationRecovery applies the verification-recovery
// command-list adjustment for a classified failure reason, if one applies.
// It returns the adjusted command list, whether a change was made, and the
// recovery rule name to record on the requeue event.
func AdjustCommandsForVerificationRecovery(reason string, commands []string, errorMeta *taskmodel.RunErrorMeta) (newCommands []string, changed bool, recoveryRule string) {
	if dropFailedCommandReasons[reason] {
		return adjustDropFailedCommand(reason, commands, errorMeta)
	}
	if reason == classifier.ReasonSequenceIssue {
		return adjustSequenceIssue(reason, commands)
	}
	return commands, false, ""
}

func adjustDropFailedCommand(reason string, commands []string, errorMeta *taskmodel.RunErrorMeta) ([]string, bool, string) {
	if errorMeta == nil || errorMeta.FailedCommand == "" {
		return []string{}, true, reason + "_adjusted"
	}

	out := make([]string, 0, len(commands))
	dropped := false
	for _, c := range commands {
		if !dropped && strings.TrimSpace(c) == strings.TrimSpace(errorMeta.FailedCommand) {
			dropped = true
			continue
		}
		out = append(out, c)
	}
	if !dropped {
		return []string{}, true, reason + "_adjusted"
	}
	return out, true, reason + "_adjusted"
}

func adjustSequenceIssue(reason string, commands []string) ([]string, bool, string) {
	if len(commands) < 2 {
		return commands, false, ""
	}

	for i := 1; i < len(commands); i++ {
		m := artifactCheckPattern.FindStringSubmatch(commands[i])
		if m == nil {
			continue
		}
		path := m[1]
		if strings.ContainsAny(path, "*?") {
			continue
		}
		if !generatedArtifactSegmentPattern.MatchString(path) {
			continue
		}
		if !cleanLikeCommandPattern.MatchString(commands[i-1]) {
			continue
		}

		out := make([]string, len(commands))
		copy(out, commands)
		out[i-1], out[i] = out[i], out[i-1]
		return out, true, reason + "_adjusted"
	}
	return commands, false, ""
}
