package board

import (
	"github.com/google/uuid"
	"github.com/openportal/mesh/internal/grammar"
)

func errNotFound(id uuid.UUID) error {
	return grammar.New(grammar.KindNotFound, "job %s not found on board", id)
}
