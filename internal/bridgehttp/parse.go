package bridgehttp

import (
	"github.com/google/uuid"

	"github.com/openportal/mesh/internal/grammar"
)

func parseDestination(s string) (grammar.Destination, error) {
	return grammar.NewDestination(s)
}

func parseInstruction(s string) (grammar.Instruction, error) {
	return grammar.ParseInstruction(s)
}

func parseUUID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}, grammar.Wrap(grammar.KindParse, err, "invalid job id %q", s)
	}
	return id, nil
}
