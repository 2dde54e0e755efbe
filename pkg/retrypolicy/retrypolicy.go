// Package retrypolicy holds the global and per-category retry limits the
// failed-task requeuer consults before deciding to retry or escalate.
package retrypolicy

import "github.com/cyclemanager/cyclemanager/pkg/classifier"

// categoryLimits are the default per-category retry ceilings. A limit of 0
// means the category never retries automatically (permission, noop).
var categoryLimits = map[classifier.Category]int{
	classifier.CategoryEnv:        5,
	classifier.CategorySetup:      3,
	classifier.CategoryPermission: 0,
	classifier.CategoryNoop:       0,
	classifier.CategoryPolicy:     2,
	classifier.CategoryTest:       2,
	classifier.CategoryFlaky:      6,
	classifier.CategoryModel:      2,
	classifier.CategoryModelLoop:  1,
}

// Policy evaluates retry eligibility against a configured global ceiling.
type Policy struct {
	// GlobalLimit is the maximum number of retries allowed across every
	// category; a negative value means unlimited.
	GlobalLimit int
}

// NewPolicy creates a Policy with the given global retry ceiling.
func NewPolicy(globalLimit int) Policy {
	return Policy{GlobalLimit: globalLimit}
}

// IsRetryAllowed reports whether a task with n prior retries may retry
// again under the global limit alone.
func (p Policy) IsRetryAllowed(n int) bool {
	return p.GlobalLimit < 0 || n < p.GlobalLimit
}

// ResolveCategoryLimit computes the effective retry ceiling for a category:
// when the global limit is unlimited, a category with a positive table
// value becomes unlimited too (its own cap no longer binds); a
// non-retryable category (table value <= 0) stays at 0. When the global
// limit is bounded, the category is capped at whichever of the two is
// smaller.
func (p Policy) ResolveCategoryLimit(cat classifier.Category) int {
	table := categoryLimits[cat]

	if p.GlobalLimit < 0 {
		if table <= 0 {
			return 0
		}
		return -1
	}

	if table <= 0 {
		return table
	}
	if table < p.GlobalLimit {
		return table
	}
	return p.GlobalLimit
}

// IsCategoryRetryAllowed reports whether n prior retries are within the
// given category limit; a negative limit means unlimited.
func (p Policy) IsCategoryRetryAllowed(n, limit int) bool {
	return limit < 0 || n < limit
}
