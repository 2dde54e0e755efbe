package requeue

import (
	"testing"

	"github.com/cyclemanager/cyclemanager/pkg/taskmodel"
)

func TestIsPRReviewTask(t *testing.T) {
	cases := []struct {
		name string
		task taskmodel.Task
		want bool
	}{
		{"goal prefix", taskmodel.Task{Goal: "Review and process open PR #42"}, true},
		{"title prefix", taskmodel.Task{Title: "[PR] Review #42: fix typo"}, true},
		{"pr context", taskmodel.Task{Context: taskmodel.TaskContext{PR: &taskmodel.PRContext{Number: 7}}}, true},
		{"imported from backlog", taskmodel.Task{Context: taskmodel.TaskContext{ImportedFromPRBacklog: true}}, true},
		{"unrelated", taskmodel.Task{Title: "Implement feature X", Goal: "add a button"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsPRReviewTask(tc.task); got != tc.want {
				t.Errorf("IsPRReviewTask(%+v) = %v, want %v", tc.task, got, tc.want)
			}
		})
	}
}

func TestIsConflictAutofixTask(t *testing.T) {
	if !IsConflictAutofixTask(taskmodel.Task{Title: "[AutoFix-Conflict] PR #9 resolve"}) {
		t.Error("expected conflict autofix title to match")
	}
	if IsConflictAutofixTask(taskmodel.Task{Title: "[AutoFix] PR #9"}) {
		t.Error("plain autofix title must not match conflict predicate")
	}
}

func TestActiveAutoFixExistsForPR(t *testing.T) {
	candidates := []taskmodel.Task{
		{Title: "[AutoFix] PR #5", Context: taskmodel.TaskContext{PR: &taskmodel.PRContext{Number: 5}}},
		{Title: "unrelated", Context: taskmodel.TaskContext{PR: &taskmodel.PRContext{Number: 5}}},
	}
	if !ActiveAutoFixExistsForPR(candidates, 5) {
		t.Error("expected match for PR 5")
	}
	if ActiveAutoFixExistsForPR(candidates, 6) {
		t.Error("expected no match for PR 6")
	}
}

func TestExtractVerifyReworkMarker(t *testing.T) {
	notes := "some notes\n[verify-rework-json]%7B%22failedCommand%22%3A%22pnpm%20test%22%2C%22stderr%22%3A%22boom%22%7D"
	payload, found, stripped := ExtractVerifyReworkMarker(notes)
	if !found {
		t.Fatal("expected marker to be found")
	}
	if payload.FailedCommand != "pnpm test" {
		t.Errorf("FailedCommand = %q", payload.FailedCommand)
	}
	if payload.Stderr != "boom" {
		t.Errorf("Stderr = %q", payload.Stderr)
	}
	if stripped != "some notes" {
		t.Errorf("stripped notes = %q", stripped)
	}
}

func TestExtractVerifyReworkMarker_NoMarker(t *testing.T) {
	_, found, stripped := ExtractVerifyReworkMarker("plain notes")
	if found {
		t.Error("expected no marker found")
	}
	if stripped != "plain notes" {
		t.Errorf("stripped = %q, want unchanged", stripped)
	}
}

func TestReworkTitle(t *testing.T) {
	if got := ReworkTitle("Fix the thing", false); got != "[Rework] Fix the thing" {
		t.Errorf("got %q", got)
	}
	if got := ReworkTitle("Fix the thing", true); got != "[Rework-Verify] Fix the thing" {
		t.Errorf("got %q", got)
	}
	if got := ReworkTitle("[Rework] Fix the thing", true); got != "[Rework] Fix the thing" {
		t.Errorf("must not double-prefix, got %q", got)
	}
}
