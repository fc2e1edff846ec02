package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	c := NewWithClient(redis.NewClient(&redis.Options{Addr: s.Addr()}))
	t.Cleanup(func() { c.Close() })
	return c, s
}

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestGetJSONMiss(t *testing.T) {
	c, _ := newTestCache(t)

	var out payload
	hit, err := c.GetJSON(context.Background(), "lists:alice:true", &out)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if hit {
		t.Error("expected a miss on an empty cache")
	}
}

func TestSetAndGetJSON(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	in := payload{Name: "water quality", Count: 3}
	if err := c.SetJSON(ctx, "lists:alice:true", in, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	var out payload
	hit, err := c.GetJSON(ctx, "lists:alice:true", &out)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !hit {
		t.Fatal("expected a hit")
	}
	if out != in {
		t.Errorf("round trip changed value: %+v", out)
	}
}

func TestSetJSONExpires(t *testing.T) {
	c, s := newTestCache(t)
	ctx := context.Background()

	if err := c.SetJSON(ctx, "lists:alice:false", payload{Name: "x"}, 30*time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	s.FastForward(31 * time.Second)

	var out payload
	hit, err := c.GetJSON(ctx, "lists:alice:false", &out)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if hit {
		t.Error("expected a miss after the TTL elapsed")
	}
}

func TestDeleteRemovesOnlyNamedKeys(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	for _, name := range []string{"lists:alice:true", "lists:alice:false", "lists:bob:true"} {
		if err := c.SetJSON(ctx, name, payload{}, time.Minute); err != nil {
			t.Fatalf("set %s: %v", name, err)
		}
	}
	if err := c.Delete(ctx, "lists:alice:true", "lists:alice:false"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	var out payload
	if hit, _ := c.GetJSON(ctx, "lists:alice:true", &out); hit {
		t.Error("deleted key still present")
	}
	if hit, _ := c.GetJSON(ctx, "lists:bob:true", &out); !hit {
		t.Error("unrelated key removed")
	}
}

func TestKeysAreNamespaced(t *testing.T) {
	c, s := newTestCache(t)

	if err := c.SetJSON(context.Background(), "lists:alice:true", payload{}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !s.Exists("gridboard:lists:alice:true") {
		t.Error("key stored without the gridboard prefix")
	}
}
