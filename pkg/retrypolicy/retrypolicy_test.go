package retrypolicy

import (
	"testing"

	"github.com/cyclemanager/cyclemanager/pkg/classifier"
)

func TestIsRetryAllowed(t *testing.T) {
	tests := []struct {
		name        string
		globalLimit int
		n           int
		want        bool
	}{
		{"unlimited always allows", -1, 1000, true},
		{"under limit", 5, 4, true},
		{"at limit", 5, 5, false},
		{"over limit", 5, 6, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPolicy(tt.globalLimit)
			if got := p.IsRetryAllowed(tt.n); got != tt.want {
				t.Errorf("IsRetryAllowed(%d) = %v, want %v", tt.n, got, tt.want)
			}
		})
	}
}

func TestResolveCategoryLimit_GlobalUnlimited(t *testing.T) {
	p := NewPolicy(-1)
	tests := []struct {
		category classifier.Category
		want     int
	}{
		{classifier.CategoryFlaky, -1},
		{classifier.CategoryEnv, -1},
		{classifier.CategoryPermission, 0},
		{classifier.CategoryNoop, 0},
	}
	for _, tt := range tests {
		if got := p.ResolveCategoryLimit(tt.category); got != tt.want {
			t.Errorf("ResolveCategoryLimit(%q) = %d, want %d", tt.category, got, tt.want)
		}
	}
}

func TestResolveCategoryLimit_GlobalOne(t *testing.T) {
	p := NewPolicy(1)
	if got := p.ResolveCategoryLimit(classifier.CategoryFlaky); got != 1 {
		t.Errorf("ResolveCategoryLimit(flaky) = %d, want 1 (capped by global)", got)
	}
	if got := p.ResolveCategoryLimit(classifier.CategoryPermission); got != 0 {
		t.Errorf("ResolveCategoryLimit(permission) = %d, want 0", got)
	}
}

func TestIsCategoryRetryAllowed(t *testing.T) {
	p := Policy{}
	if !p.IsCategoryRetryAllowed(100, -1) {
		t.Error("unlimited category limit should always allow")
	}
	if p.IsCategoryRetryAllowed(3, 3) {
		t.Error("retry count equal to limit should not be allowed")
	}
	if !p.IsCategoryRetryAllowed(2, 3) {
		t.Error("retry count under limit should be allowed")
	}
}
