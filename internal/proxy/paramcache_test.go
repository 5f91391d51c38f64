package proxy

import (
	"testing"

	"studioproxy/pkg/types"
)

func TestParamCacheGetMiss(t *testing.T) {
	c := NewParamCache()
	if _, ok := c.Get("alpha"); ok {
		t.Fatal("expected miss on empty cache")
	}
}

func TestParamCachePutGet(t *testing.T) {
	c := NewParamCache()
	p := types.GenParams{Temperature: 0.7, TopP: 0.9, MaxOutputTokens: 512}
	c.Put("alpha", p)

	got, ok := c.Get("alpha")
	if !ok {
		t.Fatal("expected hit after put")
	}
	if !got.Equal(p) {
		t.Fatalf("cached params mismatch: %+v", got)
	}
	// Entries are per model.
	if _, ok := c.Get("beta"); ok {
		t.Fatal("unexpected hit for other model")
	}
}

func TestParamCacheOverwrite(t *testing.T) {
	c := NewParamCache()
	c.Put("alpha", types.GenParams{Temperature: 0.2})
	c.Put("alpha", types.GenParams{Temperature: 0.9})

	got, _ := c.Get("alpha")
	if got.Temperature != 0.9 {
		t.Fatalf("expected last write to win, got %v", got.Temperature)
	}
	if c.Len() != 1 {
		t.Fatalf("len: got %d want 1", c.Len())
	}
}

func TestParamCacheDropAndReset(t *testing.T) {
	c := NewParamCache()
	c.Put("alpha", types.GenParams{Temperature: 0.2})
	c.Put("beta", types.GenParams{Temperature: 0.3})

	c.Drop("alpha")
	if _, ok := c.Get("alpha"); ok {
		t.Fatal("expected miss after drop")
	}
	if _, ok := c.Get("beta"); !ok {
		t.Fatal("drop must not touch other models")
	}

	c.Reset()
	if c.Len() != 0 {
		t.Fatalf("len after reset: got %d want 0", c.Len())
	}
}

func TestGenParamsEqual(t *testing.T) {
	a := types.GenParams{Temperature: 0.7, Stop: []string{"x"}}
	b := types.GenParams{Temperature: 0.7, Stop: []string{"x"}}
	if !a.Equal(b) {
		t.Fatal("identical params reported unequal")
	}
	b.Stop = []string{"y"}
	if a.Equal(b) {
		t.Fatal("different stop sequences reported equal")
	}
}
