package grammar_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openportal/mesh/internal/grammar"
)

func TestUserIdentifierRoundTrip(t *testing.T) {
	u, err := grammar.ParseUserIdentifier("alice.proj1.portal1")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, "proj1", u.Project)
	assert.Equal(t, "portal1", u.Portal)
	assert.Equal(t, "alice.proj1.portal1", u.String())
}

func TestUserIdentifierRejectsWrongArity(t *testing.T) {
	_, err := grammar.ParseUserIdentifier("alice.proj1")
	require.Error(t, err)
	assert.Equal(t, grammar.KindParse, grammar.KindOf(err))
}

func TestUserIdentifierRejectsEmptyComponent(t *testing.T) {
	_, err := grammar.ParseUserIdentifier("alice..portal1")
	assert.Error(t, err)
}

func TestProjectIdentifierRoundTrip(t *testing.T) {
	p, err := grammar.ParseProjectIdentifier("proj1.portal1")
	require.NoError(t, err)
	assert.Equal(t, "proj1.portal1", p.String())
}

func TestUserMappingRoundTrip(t *testing.T) {
	user, err := grammar.ParseUserIdentifier("alice.proj1.portal1")
	require.NoError(t, err)
	m, err := grammar.NewUserMapping(user, "alice", "researchers")
	require.NoError(t, err)
	assert.Equal(t, "alice.proj1.portal1:alice:researchers", m.String())

	parsed, err := grammar.ParseUserMapping(m.String())
	require.NoError(t, err)
	assert.Equal(t, m, parsed)
}

func TestUserMappingRejectsLeadingDotLocalNames(t *testing.T) {
	user, err := grammar.ParseUserIdentifier("alice.proj1.portal1")
	require.NoError(t, err)
	_, err = grammar.NewUserMapping(user, ".alice", "researchers")
	assert.Error(t, err)
}

func TestDestinationPosition(t *testing.T) {
	d, err := grammar.NewDestination("portal.platform.instance.provider")
	require.NoError(t, err)

	assert.Equal(t, grammar.PositionDownstream, d.Position("instance", "platform"))
	assert.Equal(t, grammar.PositionUpstream, d.Position("platform", "instance"))
	assert.Equal(t, grammar.PositionDestination, d.Position("provider", "instance"))
	assert.Equal(t, grammar.PositionError, d.Position("unknown-agent", "platform"))
}

func TestDestinationNextPrevious(t *testing.T) {
	d, err := grammar.NewDestination("a.b.c")
	require.NoError(t, err)

	next, ok := d.Next("a")
	require.True(t, ok)
	assert.Equal(t, "b", next)

	_, ok = d.Next("c")
	assert.False(t, ok, "last hop has no next")

	prev, ok := d.Previous("c")
	require.True(t, ok)
	assert.Equal(t, "b", prev)

	_, ok = d.Previous("a")
	assert.False(t, ok, "first hop has no previous")
}

func TestDestinationWithPrefix(t *testing.T) {
	d, err := grammar.NewDestination("b.c")
	require.NoError(t, err)
	prefixed := d.WithPrefix("a")
	assert.Equal(t, "a.b.c", prefixed.String())
}

func TestDestinationEqual(t *testing.T) {
	d1, _ := grammar.NewDestination("a.b.c")
	d2, _ := grammar.NewDestination("a.b.c")
	d3, _ := grammar.NewDestination("a.b")
	assert.True(t, d1.Equal(d2))
	assert.False(t, d1.Equal(d3))
}

func TestInstructionRoundTrip(t *testing.T) {
	user, err := grammar.ParseUserIdentifier("alice.proj1.portal1")
	require.NoError(t, err)
	project := user.ProjectIdentifier()

	cases := []grammar.Instruction{
		grammar.AddUser(user),
		grammar.RemoveUser(user),
		grammar.GetUserMapping(user),
		grammar.IsProtectedUser(user),
		grammar.UpdateHomeDir(user, "/home/alice"),
		grammar.CreateProject(project, `{"quota":100}`),
		grammar.GetProject(project),
		grammar.GetUsers(project),
	}

	for _, inst := range cases {
		s := inst.String()
		parsed, err := grammar.ParseInstruction(s)
		require.NoError(t, err, "parsing %q", s)
		assert.Equal(t, inst, parsed, "round trip of %q", s)
	}
}

func TestInstructionSubmitRoundTrip(t *testing.T) {
	dest, err := grammar.NewDestination("portal.platform")
	require.NoError(t, err)
	user, err := grammar.ParseUserIdentifier("alice.proj1.portal1")
	require.NoError(t, err)

	inst := grammar.Submit(dest, grammar.AddUser(user))
	parsed, err := grammar.ParseInstruction(inst.String())
	require.NoError(t, err)
	assert.Equal(t, inst.Kind, parsed.Kind)
	assert.Equal(t, inst.SubmitDestination, parsed.SubmitDestination)
	assert.Equal(t, *inst.SubmitInner, *parsed.SubmitInner)
}

func TestInstructionJSONRoundTrip(t *testing.T) {
	user, err := grammar.ParseUserIdentifier("alice.proj1.portal1")
	require.NoError(t, err)
	inst := grammar.AddUser(user)

	data, err := inst.MarshalJSON()
	require.NoError(t, err)

	var decoded grammar.Instruction
	require.NoError(t, decoded.UnmarshalJSON(data))
	assert.Equal(t, inst, decoded)
}

func TestParseInstructionRejectsUnknownVerb(t *testing.T) {
	_, err := grammar.ParseInstruction("frobnicate something")
	require.Error(t, err)
	assert.Equal(t, grammar.KindParse, grammar.KindOf(err))
}

func TestDateRangeRoundTrip(t *testing.T) {
	r, err := grammar.ParseDateRange("2026-01-01..2026-01-31")
	require.NoError(t, err)
	assert.Equal(t, "2026-01-01..2026-01-31", r.String())
}

func TestValidName(t *testing.T) {
	assert.True(t, grammar.ValidName("cluster-1_a"))
	assert.False(t, grammar.ValidName(""))
	assert.False(t, grammar.ValidName("has.dot"))
	assert.False(t, grammar.ValidName("has space"))
}

func TestErrorKindMatching(t *testing.T) {
	err := grammar.New(grammar.KindNotFound, "user %s not found", "alice")
	assert.Equal(t, grammar.KindNotFound, grammar.KindOf(err))
	assert.NotEqual(t, grammar.KindDuplicate, grammar.KindOf(err))
}

func TestErrorSentinelMatchesExactMessage(t *testing.T) {
	err := grammar.New(grammar.KindNotFound, "not found")
	assert.ErrorIs(t, err, grammar.ErrNotFound)
}
