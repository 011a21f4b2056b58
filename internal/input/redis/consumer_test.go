package redis

import (
	"testing"
	"time"
)

func TestNewConsumerDefaults(t *testing.T) {
	c, err := NewConsumer(Config{})
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	defer c.Close()

	if c.Key() != DefaultKey {
		t.Fatalf("expected key %q, got %q", DefaultKey, c.Key())
	}
	if c.blockTimeout != 5*time.Second {
		t.Fatalf("expected 5s block timeout, got %v", c.blockTimeout)
	}
}

func TestNewConsumerRejectsNegativeTimeout(t *testing.T) {
	if _, err := NewConsumer(Config{BlockTimeout: -time.Second}); err == nil {
		t.Fatalf("expected error")
	}
}
