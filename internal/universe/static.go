package universe

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// StaticOracle resolves distances against a gate adjacency map loaded at
// startup. Suited to deployments that ship a universe snapshot and to tests.
type StaticOracle struct {
	adj map[int32][]int32

	mu    sync.Mutex
	cache map[[2]int32]int
}

// NewStaticOracle builds an oracle over an adjacency map. The map is treated
// as undirected: an edge listed on either side connects both.
func NewStaticOracle(adj map[int32][]int32) *StaticOracle {
	full := make(map[int32][]int32, len(adj))
	for from, tos := range adj {
		for _, to := range tos {
			full[from] = append(full[from], to)
			full[to] = append(full[to], from)
		}
	}
	return &StaticOracle{
		adj:   full,
		cache: make(map[[2]int32]int),
	}
}

type staticMapFile struct {
	Systems map[int32][]int32 `yaml:"systems"`
}

// LoadStaticOracle reads a YAML gate map ({systems: {id: [neighbor, ...]}}).
func LoadStaticOracle(path string) (*StaticOracle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read universe map: %w", err)
	}
	var f staticMapFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse universe map: %w", err)
	}
	if len(f.Systems) == 0 {
		return nil, fmt.Errorf("universe map %s lists no systems", path)
	}
	return NewStaticOracle(f.Systems), nil
}

// Distance runs a breadth-first search over the gate graph, memoising the
// result. Unknown systems are unreachable.
func (o *StaticOracle) Distance(_ context.Context, from, to int32) (int, error) {
	if from == to {
		return 0, nil
	}
	key := distKey(from, to)

	o.mu.Lock()
	if d, ok := o.cache[key]; ok {
		o.mu.Unlock()
		return d, nil
	}
	o.mu.Unlock()

	d := o.bfs(from, to)

	o.mu.Lock()
	o.cache[key] = d
	o.mu.Unlock()
	return d, nil
}

func (o *StaticOracle) bfs(from, to int32) int {
	if _, ok := o.adj[from]; !ok {
		return Unreachable
	}
	visited := map[int32]bool{from: true}
	frontier := []int32{from}
	depth := 0
	for len(frontier) > 0 {
		depth++
		var next []int32
		for _, sys := range frontier {
			for _, n := range o.adj[sys] {
				if visited[n] {
					continue
				}
				if n == to {
					return depth
				}
				visited[n] = true
				next = append(next, n)
			}
		}
		frontier = next
	}
	return Unreachable
}

func distKey(a, b int32) [2]int32 {
	if a > b {
		a, b = b, a
	}
	return [2]int32{a, b}
}
