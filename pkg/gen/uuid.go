package gen

import (
	"encoding/hex"

	"github.com/google/uuid"
)

type UUIDGenerator func() uuid.UUID

func UUID() UUIDGenerator {
	return func() uuid.UUID {
		return uuid.Must(uuid.NewRandom())
	}
}

func (g UUIDGenerator) Next() uuid.UUID {
	if g == nil {
		return uuid.Nil
	}

	return g()
}

// Hex returns the next id as 32 lowercase hex characters, the form used
// in chunk filenames and job ids.
func (g UUIDGenerator) Hex() string {
	id := g.Next()
	return hex.EncodeToString(id[:])
}
