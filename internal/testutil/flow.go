package testutil

// FixedIDGenerator generates the same pass id every time.
//
// Golden traces record the pass id of every Sync call; a fixed id keeps
// them byte-identical across runs. Unlike engine.FixedGenerator, which
// returns ids in sequence, this generator always returns one value.
//
// Thread-safety: FixedIDGenerator is stateless and safe for concurrent use.
type FixedIDGenerator struct {
	id string
}

// NewFixedIDGenerator creates a fixed id generator.
// If id is empty, Generate returns "test-pass-default".
func NewFixedIDGenerator(id string) *FixedIDGenerator {
	if id == "" {
		id = "test-pass-default"
	}
	return &FixedIDGenerator{id: id}
}

// Generate returns the fixed id.
//
// Implements engine.IDGenerator.
func (g *FixedIDGenerator) Generate() string {
	return g.id
}
