// Package classifier maps a run's failure (structured code or free-form
// message) onto a retry category, and detects when a task keeps failing the
// same way.
package classifier

import (
	"regexp"
	"strings"

	"github.com/cyclemanager/cyclemanager/pkg/taskmodel"
)

// Category buckets a failure for retry-policy purposes.
type Category string

const (
	CategoryEnv        Category = "env"
	CategorySetup      Category = "setup"
	CategoryPermission Category = "permission"
	CategoryNoop       Category = "noop"
	CategoryPolicy     Category = "policy"
	CategoryTest       Category = "test"
	CategoryFlaky      Category = "flaky"
	CategoryModel      Category = "model"
	CategoryModelLoop  Category = "model_loop"
)

// Reason codes, referenced by the requeuers to pick a recovery strategy.
const (
	ReasonPermissionPrompt        = "external_directory_permission_prompt"
	ReasonNoActionableChanges     = "no_actionable_changes"
	ReasonPolicyViolation         = "policy_violation"
	ReasonMissingScript           = "verification_command_missing_script"
	ReasonUnsupportedFormat       = "verification_command_unsupported_format"
	ReasonSequenceIssue           = "verification_command_sequence_issue"
	ReasonMissingMakeTarget       = "missing_make_target"
	ReasonNoTestFiles             = "verification_command_no_test_files"
	ReasonSetupOrBootstrapIssue   = "setup_or_bootstrap_issue"
	ReasonEnvironmentIssue        = "environment_issue"
	ReasonQuotaFailure            = "quota_failure"
	ReasonVerificationFailed      = "verification_command_failed"
	ReasonTestFailure             = "test_failure"
	ReasonTransientOrFlaky        = "transient_or_flaky_failure"
	ReasonModelDoomLoop           = "model_doom_loop"
	ReasonModelOrUnknownFailure   = "model_or_unknown_failure"
	ReasonExecutionFailed         = "execution_failed"
)

// Classification is the outcome of classifying a run's failure.
type Classification struct {
	Category    Category
	Retryable   bool
	Reason      string
	BlockReason taskmodel.BlockReason
}

// codeRule describes the category/retryable outcome for a known structured
// failure code.
type codeRule struct {
	category  Category
	retryable bool
}

// failureCodeTable maps every known structured failure code to its category
// and retryability, per the canonical failure-code table.
var failureCodeTable = map[string]codeRule{
	ReasonPermissionPrompt:      {CategoryPermission, false},
	ReasonNoActionableChanges:   {CategoryNoop, false},
	ReasonPolicyViolation:       {CategoryPolicy, true},
	ReasonMissingScript:         {CategorySetup, false},
	ReasonUnsupportedFormat:     {CategorySetup, false},
	ReasonSequenceIssue:         {CategorySetup, false},
	ReasonMissingMakeTarget:     {CategorySetup, false},
	ReasonNoTestFiles:           {CategorySetup, false},
	ReasonSetupOrBootstrapIssue: {CategorySetup, true},
	ReasonEnvironmentIssue:      {CategoryEnv, true},
	ReasonQuotaFailure:          {CategoryEnv, true},
	ReasonVerificationFailed:    {CategoryTest, true},
	ReasonTestFailure:           {CategoryTest, true},
	ReasonTransientOrFlaky:      {CategoryFlaky, true},
	ReasonModelDoomLoop:         {CategoryModelLoop, true},
	ReasonModelOrUnknownFailure: {CategoryModel, true},
	ReasonExecutionFailed:       {CategoryModel, true},
}

// messageRule is one entry in the priority-ordered message pattern table.
type messageRule struct {
	reason    string
	category  Category
	retryable bool
	pattern   *regexp.Regexp
}

// messageRules are evaluated in order; the first match wins. Precompiled
// once at package init so the classifier never recompiles a pattern per
// call.
var messageRules = []messageRule{
	{ReasonPermissionPrompt, CategoryPermission, false,
		regexp.MustCompile(`permission\s+(to\s+)?(access|write|create|modify).*\b(outside|directory|allow)|operation not permitted`)},
	{ReasonNoActionableChanges, CategoryNoop, false,
		regexp.MustCompile(`no actionable changes|nothing to (commit|do)|no changes (were )?made`)},
	{ReasonPolicyViolation, CategoryPolicy, true,
		regexp.MustCompile(`policy violation|outside (the )?allowed path|not in allowed.?paths`)},
	{ReasonMissingScript, CategorySetup, false,
		regexp.MustCompile(`err_pnpm_no_script|missing script`)},
	{ReasonSetupOrBootstrapIssue, CategorySetup, true,
		regexp.MustCompile(`\b(enoent|cannot find module|no such file or directory)\b|package(\.json)? not found|auth(entication)? required to install`)},
	{ReasonEnvironmentIssue, CategoryEnv, true,
		regexp.MustCompile(`connection refused|could not connect|econnrefused|database (is )?unavailable`)},
	{ReasonVerificationFailed, CategoryTest, true,
		regexp.MustCompile(`\b(jest|pytest|go test|vitest|mocha|rspec)\b|verification command(s)? failed`)},
	{ReasonTransientOrFlaky, CategoryFlaky, true,
		regexp.MustCompile(`rate limit(ed)?|\b5\d\d\b|timed? ?out|econnreset`)},
	{ReasonModelDoomLoop, CategoryModelLoop, true,
		regexp.MustCompile(`repeated the same (action|edit|command)|stuck in a loop|doom.?loop`)},
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// normalizeMessage lowercases a failure message and strips ANSI escape
// sequences, the shared first step of both classification and signature
// normalization.
func normalizeMessage(msg string) string {
	return strings.ToLower(ansiPattern.ReplaceAllString(msg, ""))
}

// Classify maps a run's failure onto a category, retryability, reason code,
// and block reason. Structured failure codes win over message pattern
// matching; an unmatched failure classifies as model/retryable.
func Classify(errorMessage string, errorMeta *taskmodel.RunErrorMeta) Classification {
	if errorMeta != nil && errorMeta.FailureCode != "" {
		if rule, ok := failureCodeTable[errorMeta.FailureCode]; ok {
			return Classification{
				Category:    rule.category,
				Retryable:   rule.retryable,
				Reason:      errorMeta.FailureCode,
				BlockReason: taskmodel.BlockNeedsRework,
			}
		}
	}

	normalized := normalizeMessage(errorMessage)
	for _, rule := range messageRules {
		if rule.pattern.MatchString(normalized) {
			return Classification{
				Category:    rule.category,
				Retryable:   rule.retryable,
				Reason:      rule.reason,
				BlockReason: taskmodel.BlockNeedsRework,
			}
		}
	}

	return Classification{
		Category:    CategoryModel,
		Retryable:   true,
		Reason:      ReasonModelOrUnknownFailure,
		BlockReason: taskmodel.BlockNeedsRework,
	}
}
