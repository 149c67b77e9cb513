package idgen

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator produces unique string ids.
type Generator interface {
	Generate() (string, error)
}

// ULIDGenerator generates ULIDs. Ids minted within the same millisecond
// still sort in creation order because entropy is monotonic.
type ULIDGenerator struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// NewULIDGenerator creates a new ULIDGenerator.
func NewULIDGenerator() *ULIDGenerator {
	return &ULIDGenerator{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
}

func (g *ULIDGenerator) Generate() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(g.now()), g.entropy)
	if err != nil {
		return "", fmt.Errorf("failed to generate ULID: %w", err)
	}
	return id.String(), nil
}

// Validate reports whether id is a well-formed ULID.
func Validate(id string) error {
	if len(id) != ulid.EncodedSize {
		return fmt.Errorf("expected length %d, got %d", ulid.EncodedSize, len(id))
	}
	if _, err := ulid.ParseStrict(id); err != nil {
		return fmt.Errorf("invalid ULID format: %w", err)
	}
	return nil
}
