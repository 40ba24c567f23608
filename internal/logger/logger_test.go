package logger

import "testing"

func TestSanitizeKVs(t *testing.T) {
	out := sanitizeKVs([]interface{}{"admin_key", "abc:def", "cache_key", "recipe:1", "bot_token", "t", "dangling"})

	if out[1] != "[REDACTED]" {
		t.Errorf("Expected admin_key to be redacted, got %v", out[1])
	}
	if out[3] != "recipe:1" {
		t.Errorf("Expected cache_key to pass through, got %v", out[3])
	}
	if out[5] != "[REDACTED]" {
		t.Errorf("Expected bot_token to be redacted, got %v", out[5])
	}
	if len(out) != 7 || out[6] != "dangling" {
		t.Errorf("Expected trailing key to be kept, got %v", out)
	}
}
