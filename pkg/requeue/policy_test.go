package requeue

import (
	"testing"

	"github.com/cyclemanager/cyclemanager/pkg/taskmodel"
)

func TestExtractViolationPaths_PreferStructured(t *testing.T) {
	errorMeta := &taskmodel.RunErrorMeta{PolicyViolations: []taskmodel.PolicyViolation{
		{Path: "secrets/prod.env"}, {Path: "infra/terraform/main.tf"},
	}}
	got := ExtractViolationPaths("something else entirely", errorMeta)
	if len(got) != 2 || got[0] != "secrets/prod.env" || got[1] != "infra/terraform/main.tf" {
		t.Errorf("got %v", got)
	}
}

func TestExtractViolationPaths_FromMessage(t *testing.T) {
	got := ExtractViolationPaths(`write to "infra/terraform/main.tf" is outside allowed paths: infra/terraform/main.tf`, nil)
	if len(got) == 0 {
		t.Fatal("expected at least one extracted path")
	}
}

func TestAdjustAllowedPathsForPolicyViolation_AddsNewPath(t *testing.T) {
	task := taskmodel.Task{AllowedPaths: []string{"src"}}
	errorMeta := &taskmodel.RunErrorMeta{PolicyViolations: []taskmodel.PolicyViolation{{Path: "infra/terraform/main.tf"}}}

	got, changed := AdjustAllowedPathsForPolicyViolation(task, "", errorMeta)
	if !changed {
		t.Fatal("expected allowedPaths to grow")
	}
	found := false
	for _, p := range got {
		if p == "infra/terraform/main.tf" || p == "infra/terraform" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an auto-allow hint for the violated path, got %v", got)
	}
}

func TestAdjustAllowedPathsForPolicyViolation_AlreadyAllowed(t *testing.T) {
	task := taskmodel.Task{AllowedPaths: []string{"infra"}}
	errorMeta := &taskmodel.RunErrorMeta{PolicyViolations: []taskmodel.PolicyViolation{{Path: "infra/terraform/main.tf"}}}

	_, changed := AdjustAllowedPathsForPolicyViolation(task, "", errorMeta)
	if changed {
		t.Error("path already covered by an allowed prefix must not count as a change")
	}
}

func TestAdjustAllowedPathsForPolicyViolation_NoViolations(t *testing.T) {
	task := taskmodel.Task{AllowedPaths: []string{"src"}}
	_, changed := AdjustAllowedPathsForPolicyViolation(task, "nothing relevant", nil)
	if changed {
		t.Error("expected no change without extractable violations")
	}
}
