package connection

import (
	"context"
	"errors"
	"testing"
)

func TestKey(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"url only", Config{URL: "wss://a"}, "wss://a"},
		{"protocols sorted", Config{URL: "wss://a", Protocols: []string{"v2", "v1"}}, "wss://a|v1,v2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Key(tt.cfg); got != tt.want {
				t.Errorf("Key() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRegistry_GetReusesClient(t *testing.T) {
	r := NewRegistry(nil, WithDialer(&fakeDialer{}), WithScheduler(&fakeScheduler{}))
	defer r.Close()

	cfg := testConfig()
	a, err := r.Get(cfg)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	b, err := r.Get(cfg)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if a != b {
		t.Error("expected the same client for the same endpoint")
	}

	other := cfg
	other.URL = "ws://other.test"
	c, err := r.Get(other)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if c == a {
		t.Error("expected a distinct client for a different endpoint")
	}
	if r.Len() != 2 {
		t.Errorf("Len = %d, want 2", r.Len())
	}

	if got, ok := r.Lookup(Key(cfg)); !ok || got != a {
		t.Error("Lookup did not return the registered client")
	}
}

func TestRegistry_GetNoURL(t *testing.T) {
	r := NewRegistry(nil)
	if _, err := r.Get(Config{}); !errors.Is(err, ErrNoURL) {
		t.Errorf("Get error = %v, want ErrNoURL", err)
	}
}

func TestRegistry_CloseDisconnectsAll(t *testing.T) {
	dialer := &fakeDialer{}
	r := NewRegistry(nil, WithDialer(dialer), WithScheduler(&fakeScheduler{}))

	c, err := r.Get(testConfig())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	r.Close()

	if c.IsConnected() {
		t.Error("expected client to be disconnected")
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
	if _, err := r.Get(testConfig()); !errors.Is(err, ErrClosed) {
		t.Errorf("Get after Close = %v, want ErrClosed", err)
	}
}

func TestRegistry_Remove(t *testing.T) {
	r := NewRegistry(nil, WithDialer(&fakeDialer{}), WithScheduler(&fakeScheduler{}))
	defer r.Close()

	cfg := testConfig()
	if _, err := r.Get(cfg); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !r.Remove(Key(cfg)) {
		t.Error("Remove returned false")
	}
	if r.Remove(Key(cfg)) {
		t.Error("second Remove returned true")
	}
}
