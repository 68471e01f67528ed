package grammar

import "strings"

// Position is where the current agent sits relative to a job's destination
// path, as seen from the peer it received the message from.
type Position int

const (
	PositionUpstream Position = iota
	PositionDownstream
	PositionDestination
	PositionError
)

func (p Position) String() string {
	switch p {
	case PositionUpstream:
		return "Upstream"
	case PositionDownstream:
		return "Downstream"
	case PositionDestination:
		return "Destination"
	default:
		return "Error"
	}
}

// Destination is an ordered, non-empty list of agent names describing the
// route a job must take, rendered dotted ("portal.clusters.cluster.filesystem").
type Destination struct {
	Agents []string
}

// NewDestination splits a dotted path into a Destination.
func NewDestination(s string) (Destination, error) {
	if s == "" {
		return Destination{}, New(KindParse, "empty destination")
	}
	parts := strings.Split(s, ".")
	for _, p := range parts {
		if p == "" {
			return Destination{}, New(KindParse, "invalid destination %q: empty hop", s)
		}
	}
	return Destination{Agents: parts}, nil
}

func (d Destination) String() string { return strings.Join(d.Agents, ".") }

func (d Destination) index(agent string) int {
	for i, a := range d.Agents {
		if a == agent {
			return i
		}
	}
	return -1
}

// Position computes where `me` sits on this destination path, entered from
// `previous`. If `me` is the last hop, it is always Destination regardless
// of previous. Otherwise the comparison of indices of me vs previous decides
// Downstream/Upstream; either name missing from the path is Error.
func (d Destination) Position(me, previous string) Position {
	if len(d.Agents) == 0 {
		return PositionError
	}
	if d.Agents[len(d.Agents)-1] == me {
		return PositionDestination
	}
	meIdx := d.index(me)
	prevIdx := d.index(previous)
	if meIdx < 0 || prevIdx < 0 {
		return PositionError
	}
	switch {
	case meIdx > prevIdx:
		return PositionDownstream
	case meIdx < prevIdx:
		return PositionUpstream
	default:
		return PositionError
	}
}

// Next returns the agent name immediately after `me` on the path, or ("",
// false) if `me` is the last hop or absent.
func (d Destination) Next(me string) (string, bool) {
	i := d.index(me)
	if i < 0 || i+1 >= len(d.Agents) {
		return "", false
	}
	return d.Agents[i+1], true
}

// Previous returns the agent name immediately before `me` on the path, or
// ("", false) if `me` is the first hop or absent.
func (d Destination) Previous(me string) (string, bool) {
	i := d.index(me)
	if i <= 0 {
		return "", false
	}
	return d.Agents[i-1], true
}

// First returns the originating agent of this destination.
func (d Destination) First() string {
	if len(d.Agents) == 0 {
		return ""
	}
	return d.Agents[0]
}

// Last returns the terminal agent of this destination.
func (d Destination) Last() string {
	if len(d.Agents) == 0 {
		return ""
	}
	return d.Agents[len(d.Agents)-1]
}

// Equal reports whether two destinations have the same agent path.
func (d Destination) Equal(o Destination) bool {
	if len(d.Agents) != len(o.Agents) {
		return false
	}
	for i := range d.Agents {
		if d.Agents[i] != o.Agents[i] {
			return false
		}
	}
	return true
}

// WithPrefix returns a new Destination with `prefix` prepended, used by
// runners that construct sub-jobs addressed to a peer further downstream.
func (d Destination) WithPrefix(prefix ...string) Destination {
	agents := make([]string, 0, len(prefix)+len(d.Agents))
	agents = append(agents, prefix...)
	agents = append(agents, d.Agents...)
	return Destination{Agents: agents}
}
