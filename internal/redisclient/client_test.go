package redisclient

import "testing"

func TestKey(t *testing.T) {
	c, err := New("redis://localhost:6379/2", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if got := c.Key("run", "abc", "stream"); got != "desktop-assist:run:abc:stream" {
		t.Errorf("Key = %q", got)
	}

	custom, _ := New("redis://localhost:6379", "lab:")
	defer custom.Close()
	if got := custom.Key("ratelimit", "x"); got != "lab:ratelimit:x" {
		t.Errorf("Key with prefix = %q", got)
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	if _, err := New("http://not-redis", ""); err == nil {
		t.Fatal("expected error for non-redis URL")
	}
}
