package requeue

import (
	"reflect"
	"testing"

	"github.com/cyclemanager/cyclemanager/pkg/classifier"
	"github.com/cyclemanager/cyclemanager/pkg/taskmodel"
)

func TestAdjustCommandsForVerificationRecovery_DropsFailedCommand(t *testing.T) {
	commands := []string{"pnpm run verify", "pnpm run typecheck"}
	errorMeta := &taskmodel.RunErrorMeta{FailureCode: classifier.ReasonMissingScript, FailedCommand: "pnpm run verify"}

	got, changed, rule := AdjustCommandsForVerificationRecovery(classifier.ReasonMissingScript, commands, errorMeta)
	if !changed {
		t.Fatal("expected a change")
	}
	want := []string{"pnpm run typecheck"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("commands = %v, want %v", got, want)
	}
	if rule != "verification_command_missing_script_adjusted" {
		t.Errorf("rule = %q", rule)
	}
}

func TestAdjustCommandsForVerificationRecovery_UnknownCommandClearsAll(t *testing.T) {
	commands := []string{"make verify"}
	got, changed, _ := AdjustCommandsForVerificationRecovery(classifier.ReasonMissingMakeTarget, commands, nil)
	if !changed {
		t.Fatal("expected a change")
	}
	if len(got) != 0 {
		t.Errorf("commands = %v, want empty", got)
	}
}

func TestAdjustCommandsForVerificationRecovery_SequenceIssueSwaps(t *testing.T) {
	commands := []string{"make clean", "test -f build/out.bin", "echo done"}
	got, changed, rule := AdjustCommandsForVerificationRecovery(classifier.ReasonSequenceIssue, commands, nil)
	if !changed {
		t.Fatal("expected a change")
	}
	want := []string{"test -f build/out.bin", "make clean", "echo done"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("commands = %v, want %v", got, want)
	}
	if rule != "verification_command_sequence_issue_adjusted" {
		t.Errorf("rule = %q", rule)
	}
}

func TestAdjustCommandsForVerificationRecovery_SequenceIssueNoMatch(t *testing.T) {
	commands := []string{"echo hi", "test -f src/main.go"}
	_, changed, _ := AdjustCommandsForVerificationRecovery(classifier.ReasonSequenceIssue, commands, nil)
	if changed {
		t.Error("non-generated artifact path must not trigger a swap")
	}
}

func TestAdjustCommandsForVerificationRecovery_Unrelated(t *testing.T) {
	commands := []string{"go test ./..."}
	got, changed, rule := AdjustCommandsForVerificationRecovery(classifier.ReasonTestFailure, commands, nil)
	if changed || rule != "" {
		t.Errorf("unrelated reason must not adjust, got changed=%v rule=%q", changed, rule)
	}
	if !reflect.DeepEqual(got, commands) {
		t.Errorf("commands mutated unexpectedly: %v", got)
	}
}
