package engine

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator names sync passes.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator produces time-ordered pass ids, so passes sort by
// start time in logs.
type UUIDv7Generator struct{}

func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator hands out the given pass ids in order and panics once
// they run out.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic(fmt.Sprintf("FixedGenerator: no pass id left after %d", len(g.ids)))
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
