package db

import "testing"

func TestAdvisoryKeyHash(t *testing.T) {
	a := advisoryKeyHash("task:abc-123:failure:compile_error")
	b := advisoryKeyHash("task:abc-123:failure:compile_error")
	if a != b {
		t.Errorf("hash not deterministic: %d != %d", a, b)
	}

	c := advisoryKeyHash("task:abc-123:failure:test_failure")
	if a == c {
		t.Errorf("distinct keys hashed to the same value: %d", a)
	}
}
