package universe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func chainOracle() *StaticOracle {
	// 1 - 2 - 3 - 4 - 5 with a branch 3 - 10.
	return NewStaticOracle(map[int32][]int32{
		1: {2},
		2: {3},
		3: {4, 10},
		4: {5},
	})
}

func TestStaticOracleDistance(t *testing.T) {
	o := chainOracle()
	ctx := context.Background()

	cases := []struct {
		from, to int32
		want     int
	}{
		{1, 1, 0},
		{1, 2, 1},
		{1, 5, 4},
		{5, 1, 4},
		{1, 10, 3},
		{10, 5, 3},
	}
	for _, c := range cases {
		got, err := o.Distance(ctx, c.from, c.to)
		if err != nil {
			t.Fatalf("Distance(%d,%d): %v", c.from, c.to, err)
		}
		if got != c.want {
			t.Errorf("Distance(%d,%d) = %d, want %d", c.from, c.to, got, c.want)
		}
	}
}

func TestStaticOracleUnknownSystem(t *testing.T) {
	o := chainOracle()
	d, err := o.Distance(context.Background(), 99, 1)
	if err != nil {
		t.Fatalf("Distance: %v", err)
	}
	if d != Unreachable {
		t.Errorf("distance to unknown system = %d, want Unreachable", d)
	}
}

func TestWithinRadius(t *testing.T) {
	o := chainOracle()
	ctx := context.Background()
	anchors := []int32{1}

	cases := []struct {
		system int32
		radius int
		want   bool
	}{
		{1, 0, true},
		{2, 0, false},
		{2, 1, true},
		{4, 2, false},
		{4, 3, true},
		{99, 5, false},
	}
	for _, c := range cases {
		got, err := WithinRadius(ctx, o, c.system, anchors, c.radius)
		if err != nil {
			t.Fatalf("WithinRadius(%d, r=%d): %v", c.system, c.radius, err)
		}
		if got != c.want {
			t.Errorf("WithinRadius(%d, r=%d) = %v, want %v", c.system, c.radius, got, c.want)
		}
	}
}

func TestProximityWeight(t *testing.T) {
	o := chainOracle()
	ctx := context.Background()
	anchors := []int32{1}

	w, err := ProximityWeight(ctx, o, 1, anchors, 3)
	if err != nil || w != 1.0 {
		t.Fatalf("anchor weight = %f (%v), want 1.0", w, err)
	}

	w, _ = ProximityWeight(ctx, o, 2, anchors, 3)
	if w != 0.75 {
		t.Errorf("one jump weight = %f, want 0.75", w)
	}

	w, _ = ProximityWeight(ctx, o, 5, anchors, 3)
	if w != 0 {
		t.Errorf("outside radius weight = %f, want 0", w)
	}

	w, _ = ProximityWeight(ctx, o, 2, nil, 3)
	if w != 0 {
		t.Errorf("weight without anchors = %f, want 0", w)
	}
}

func TestRouteOracle(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`[30000001,30000002,30000003]`))
	}))
	defer srv.Close()

	o := NewRouteOracle(RouteConfig{BaseURL: srv.URL})
	ctx := context.Background()

	d, err := o.Distance(ctx, 30000001, 30000003)
	if err != nil {
		t.Fatalf("Distance: %v", err)
	}
	if d != 2 {
		t.Errorf("distance = %d, want 2", d)
	}

	// Second lookup, either direction, must come from cache.
	if _, err := o.Distance(ctx, 30000003, 30000001); err != nil {
		t.Fatalf("Distance: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("route endpoint called %d times, want 1", calls.Load())
	}
}

func TestRouteOracleNoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	o := NewRouteOracle(RouteConfig{BaseURL: srv.URL})
	d, err := o.Distance(context.Background(), 30000001, 31000001)
	if err != nil {
		t.Fatalf("Distance: %v", err)
	}
	if d != Unreachable {
		t.Errorf("distance = %d, want Unreachable", d)
	}
}
