package classifier

import "testing"

func TestNormalizeFailureSignature_CollapsesVariableParts(t *testing.T) {
	a := NormalizeFailureSignature("Run 123e4567-e89b-12d3-a456-426614174000 failed at /home/user/project/src/file.go line 42", "")
	b := NormalizeFailureSignature("Run 9f8e7d6c-5b4a-3210-fedc-ba9876543210 failed at /var/lib/other/deep/path/module.go line 17", "")
	if a != b {
		t.Errorf("signatures differ after normalization:\n a=%q\n b=%q", a, b)
	}
}

func TestNormalizeFailureSignature_Idempotent(t *testing.T) {
	msg := "Model timeout after 30s"
	once := NormalizeFailureSignature(msg, "")
	twice := NormalizeFailureSignature(once, "")
	if once != twice {
		t.Errorf("normalization not idempotent: %q != %q", once, twice)
	}
}

func TestNormalizeFailureSignature_EmptyMessage(t *testing.T) {
	if got := NormalizeFailureSignature("", ""); got != "" {
		t.Errorf("expected empty signature, got %q", got)
	}
}

func TestNormalizeFailureSignature_FailureCodePrefix(t *testing.T) {
	withCode := NormalizeFailureSignature("boom", "test_failure")
	withoutCode := NormalizeFailureSignature("boom", "")
	if withCode == withoutCode {
		t.Error("expected failure code to change the signature")
	}
}

func TestAllMatch(t *testing.T) {
	tests := []struct {
		name       string
		signatures []string
		current    string
		threshold  int
		want       bool
	}{
		{"exact repeat at threshold", []string{"a", "a", "a", "a"}, "a", 4, true},
		{"fewer runs than threshold", []string{"a", "a"}, "a", 4, false},
		{"mismatch within window", []string{"a", "b", "a", "a"}, "a", 4, false},
		{"threshold one always true handled upstream", []string{"a"}, "a", 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := allMatch(tt.signatures, tt.current, tt.threshold); got != tt.want {
				t.Errorf("allMatch() = %v, want %v", got, tt.want)
			}
		})
	}
}
