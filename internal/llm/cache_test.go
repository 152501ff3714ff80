package llm

import (
	"context"
	"sync"
	"testing"
)

type recordingCompleter struct {
	mu    sync.Mutex
	calls []Params
}

func (r *recordingCompleter) Complete(_ context.Context, _ []Message, p Params) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, p)
	return "ok", nil
}

func TestCache_ReusesHandles(t *testing.T) {
	c := NewCache(&recordingCompleter{})

	a := c.Get("qwen2.5", 0.1)
	b := c.Get("qwen2.5", 0.1)
	if a != b {
		t.Error("same (model, temperature) should return the same handle")
	}
	if c.Get("qwen2.5", 0.7) == a {
		t.Error("different temperature should return a different handle")
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}

func TestCache_ClearCache(t *testing.T) {
	c := NewCache(&recordingCompleter{})
	first := c.Get("m", 0)
	c.ClearCache()
	if c.Len() != 0 {
		t.Errorf("Len after clear = %d, want 0", c.Len())
	}
	if c.Get("m", 0) == first {
		t.Error("handle should be recreated after ClearCache")
	}
}

func TestHandle_PinsModelAndTemperature(t *testing.T) {
	rec := &recordingCompleter{}
	h := NewCache(rec).Get("qwen2.5", 0.3)

	if _, err := h.Complete(context.Background(), nil, Params{Model: "other", Temperature: 1, MaxTokens: 10}); err != nil {
		t.Fatal(err)
	}
	got := rec.calls[0]
	if got.Model != "qwen2.5" || got.Temperature != 0.3 || got.MaxTokens != 10 {
		t.Errorf("params = %+v", got)
	}
	if h.Model() != "qwen2.5" {
		t.Errorf("Model() = %q", h.Model())
	}
}

func TestCache_ConcurrentGet(t *testing.T) {
	c := NewCache(&recordingCompleter{})
	var wg sync.WaitGroup
	handles := make([]*Handle, 16)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i] = c.Get("m", 0.5)
		}(i)
	}
	wg.Wait()
	for _, h := range handles[1:] {
		if h != handles[0] {
			t.Fatal("concurrent Get returned distinct handles")
		}
	}
}
