package classifier

import (
	"testing"

	"github.com/cyclemanager/cyclemanager/pkg/taskmodel"
)

func TestClassify_StructuredCode(t *testing.T) {
	tests := []struct {
		name         string
		failureCode  string
		wantCategory Category
		wantRetry    bool
	}{
		{"permission prompt", ReasonPermissionPrompt, CategoryPermission, false},
		{"no actionable changes", ReasonNoActionableChanges, CategoryNoop, false},
		{"policy violation", ReasonPolicyViolation, CategoryPolicy, true},
		{"missing script", ReasonMissingScript, CategorySetup, false},
		{"environment issue", ReasonEnvironmentIssue, CategoryEnv, true},
		{"quota failure", ReasonQuotaFailure, CategoryEnv, true},
		{"test failure", ReasonTestFailure, CategoryTest, true},
		{"transient or flaky", ReasonTransientOrFlaky, CategoryFlaky, true},
		{"model doom loop", ReasonModelDoomLoop, CategoryModelLoop, true},
		{"execution failed", ReasonExecutionFailed, CategoryModel, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify("irrelevant message", &taskmodel.RunErrorMeta{FailureCode: tt.failureCode})
			if got.Category != tt.wantCategory {
				t.Errorf("Category = %q, want %q", got.Category, tt.wantCategory)
			}
			if got.Retryable != tt.wantRetry {
				t.Errorf("Retryable = %v, want %v", got.Retryable, tt.wantRetry)
			}
			if got.Reason != tt.failureCode {
				t.Errorf("Reason = %q, want %q", got.Reason, tt.failureCode)
			}
		})
	}
}

func TestClassify_UnknownCodeFallsThroughToMessage(t *testing.T) {
	got := Classify("Connection refused: database unavailable", &taskmodel.RunErrorMeta{FailureCode: "some_unknown_code"})
	if got.Category != CategoryEnv {
		t.Errorf("Category = %q, want %q", got.Category, CategoryEnv)
	}
	if !got.Retryable {
		t.Error("expected retryable=true")
	}
}

func TestClassify_MessagePatterns(t *testing.T) {
	tests := []struct {
		name         string
		message      string
		wantCategory Category
		wantReason   string
		wantRetry    bool
	}{
		{"permission prompt", "Permission to write outside the allowed directory was denied", CategoryPermission, ReasonPermissionPrompt, false},
		{"no actionable changes", "No actionable changes were found in the diff", CategoryNoop, ReasonNoActionableChanges, false},
		{"policy violation", "Policy violation: file is outside allowed path", CategoryPolicy, ReasonPolicyViolation, true},
		{"missing script", "ERR_PNPM_NO_SCRIPT Missing script: verify", CategorySetup, ReasonMissingScript, false},
		{"bootstrap enoent", "spawn failed: ENOENT", CategorySetup, ReasonSetupOrBootstrapIssue, true},
		{"db connection", "could not connect to database: connection refused", CategoryEnv, ReasonEnvironmentIssue, true},
		{"verification jest", "Verification commands failed: jest exited with code 1", CategoryTest, ReasonVerificationFailed, true},
		{"transient rate limit", "Request failed: rate limited, retry later", CategoryFlaky, ReasonTransientOrFlaky, true},
		{"transient 5xx", "upstream returned 503", CategoryFlaky, ReasonTransientOrFlaky, true},
		{"model doom loop", "Agent is stuck in a doom-loop repeating the same edit", CategoryModelLoop, ReasonModelDoomLoop, true},
		{"unmatched", "something unexpected happened", CategoryModel, ReasonModelOrUnknownFailure, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.message, nil)
			if got.Category != tt.wantCategory {
				t.Errorf("Category = %q, want %q", got.Category, tt.wantCategory)
			}
			if got.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", got.Reason, tt.wantReason)
			}
			if got.Retryable != tt.wantRetry {
				t.Errorf("Retryable = %v, want %v", got.Retryable, tt.wantRetry)
			}
		})
	}
}

func TestClassify_Pure(t *testing.T) {
	meta := &taskmodel.RunErrorMeta{FailureCode: ReasonTestFailure}
	a := Classify("anything", meta)
	b := Classify("anything else entirely", meta)
	if a != b {
		t.Errorf("classification not pure across identical failure codes: %+v != %+v", a, b)
	}
}
