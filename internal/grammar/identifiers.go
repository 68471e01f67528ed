package grammar

import "strings"

// PortalIdentifier names the portal a user or project belongs to.
type PortalIdentifier struct {
	Portal string
}

func (p PortalIdentifier) String() string { return p.Portal }

// ParsePortalIdentifier validates a bare, dot-free portal name.
func ParsePortalIdentifier(s string) (PortalIdentifier, error) {
	if s == "" || strings.Contains(s, ".") {
		return PortalIdentifier{}, New(KindParse, "invalid portal identifier %q", s)
	}
	return PortalIdentifier{Portal: s}, nil
}

// ProjectIdentifier = (project, portal), rendered "project.portal".
type ProjectIdentifier struct {
	Project string
	Portal  string
}

func (p ProjectIdentifier) String() string { return p.Project + "." + p.Portal }

func ParseProjectIdentifier(s string) (ProjectIdentifier, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return ProjectIdentifier{}, New(KindParse, "invalid project identifier %q", s)
	}
	return ProjectIdentifier{Project: parts[0], Portal: parts[1]}, nil
}

// UserIdentifier = (username, project, portal), rendered "user.project.portal".
type UserIdentifier struct {
	Username string
	Project  string
	Portal   string
}

func (u UserIdentifier) String() string {
	return u.Username + "." + u.Project + "." + u.Portal
}

// ParseUserIdentifier splits on '.' requiring exactly three non-empty parts,
// mirroring the original Rust grammar's parse() for UserIdentifier.
func ParseUserIdentifier(s string) (UserIdentifier, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return UserIdentifier{}, New(KindParse, "invalid user identifier %q: expected user.project.portal", s)
	}
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return UserIdentifier{}, New(KindParse, "invalid user identifier %q: empty component", s)
		}
	}
	return UserIdentifier{Username: parts[0], Project: parts[1], Portal: parts[2]}, nil
}

// ProjectIdentifier returns the project this user belongs to.
func (u UserIdentifier) ProjectIdentifier() ProjectIdentifier {
	return ProjectIdentifier{Project: u.Project, Portal: u.Portal}
}

// UserMapping = (UserIdentifier, local_user, local_group), rendered
// "user.project.portal:local_user:local_group". Local names forbid leading
// or trailing '.' or '/'.
type UserMapping struct {
	User       UserIdentifier
	LocalUser  string
	LocalGroup string
}

func validLocalName(s string) bool {
	if s == "" {
		return false
	}
	first, last := s[0], s[len(s)-1]
	bad := func(b byte) bool { return b == '.' || b == '/' }
	return !bad(first) && !bad(last)
}

// NewUserMapping validates local_user/local_group the way the original's
// UserMapping::new does.
func NewUserMapping(user UserIdentifier, localUser, localGroup string) (UserMapping, error) {
	if !validLocalName(localUser) {
		return UserMapping{}, New(KindParse, "invalid local user %q", localUser)
	}
	if !validLocalName(localGroup) {
		return UserMapping{}, New(KindParse, "invalid local group %q", localGroup)
	}
	return UserMapping{User: user, LocalUser: localUser, LocalGroup: localGroup}, nil
}

func (m UserMapping) String() string {
	return m.User.String() + ":" + m.LocalUser + ":" + m.LocalGroup
}

// ParseUserMapping splits on ':' requiring exactly three parts.
func ParseUserMapping(s string) (UserMapping, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return UserMapping{}, New(KindParse, "invalid user mapping %q: expected user:local_user:local_group", s)
	}
	user, err := ParseUserIdentifier(parts[0])
	if err != nil {
		return UserMapping{}, err
	}
	return NewUserMapping(user, parts[1], parts[2])
}

// Peer = (name, zone). Two peers with the same name in different zones are
// distinct; a portal-to-portal link uses zone "{sender}>{recipient}".
type Peer struct {
	Name string
	Zone string
}

func (p Peer) String() string { return p.Name + "@" + p.Zone }

// PortalZone renders the synthetic zone used for direct portal-to-portal
// links, authorized only if both ends agree on the same string.
func PortalZone(sender, recipient string) string {
	return sender + ">" + recipient
}

var nameCharset = func() [256]bool {
	var ok [256]bool
	for c := 'A'; c <= 'Z'; c++ {
		ok[c] = true
	}
	for c := 'a'; c <= 'z'; c++ {
		ok[c] = true
	}
	for c := '0'; c <= '9'; c++ {
		ok[c] = true
	}
	ok['_'] = true
	ok['-'] = true
	return ok
}()

// ValidName checks the [A-Za-z0-9_-]+ charset required of zones and agent
// names (spec §4.1).
func ValidName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !nameCharset[s[i]] {
			return false
		}
	}
	return true
}
