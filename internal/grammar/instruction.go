package grammar

import (
	"encoding/json"
	"strings"
)

// InstructionKind tags which variant of the instruction union is populated.
// The string value is also the wire verb (first word of the textual form).
type InstructionKind string

const (
	KindSubmit             InstructionKind = "submit"
	KindAddUser            InstructionKind = "add_user"
	KindRemoveUser         InstructionKind = "remove_user"
	KindAddLocalUser       InstructionKind = "add_local_user"
	KindRemoveLocalUser    InstructionKind = "remove_local_user"
	KindUpdateHomeDir      InstructionKind = "update_home_dir"
	KindCreateProject      InstructionKind = "create_project"
	KindRemoveProject      InstructionKind = "remove_project"
	KindUpdateProject      InstructionKind = "update_project"
	KindGetProject         InstructionKind = "get_project"
	KindGetProjects        InstructionKind = "get_projects"
	KindGetProjectMapping  InstructionKind = "get_project_mapping"
	KindGetUserMapping     InstructionKind = "get_user_mapping"
	KindGetUsers           InstructionKind = "get_users"
	KindGetUsageReport     InstructionKind = "get_usage_report"
	KindGetUsageReports    InstructionKind = "get_usage_reports"
	KindIsProtectedUser    InstructionKind = "is_protected_user"
)

// Instruction is the tagged union described in spec.md §3: every variant an
// agent must be able to parse from, and format back to, its single-line
// textual wire/on-disk form. Only the fields relevant to Kind are populated;
// this mirrors the original's enum-with-payload shape without needing a Go
// sum-type library, matching the wire grammar instead of a Go-native
// encoding.
type Instruction struct {
	Kind InstructionKind

	// Submit
	SubmitDestination Destination
	SubmitInner       *Instruction

	// user-identifier-bearing variants
	User UserIdentifier

	// mapping-bearing variants
	Mapping UserMapping

	// UpdateHomeDir
	HomeDir string

	// project-identifier-bearing variants
	Project ProjectIdentifier

	// CreateProject / UpdateProject opaque details blob (JSON already
	// serialized by the caller; the grammar does not interpret it)
	Details string

	// GetProjects / GetUsageReports
	Portal PortalIdentifier

	// GetUsageReport / GetUsageReports
	Dates DateRange
}

// Submit constructs a Submit(dest, inner) instruction.
func Submit(dest Destination, inner Instruction) Instruction {
	return Instruction{Kind: KindSubmit, SubmitDestination: dest, SubmitInner: &inner}
}

func AddUser(u UserIdentifier) Instruction { return Instruction{Kind: KindAddUser, User: u} }
func RemoveUser(u UserIdentifier) Instruction {
	return Instruction{Kind: KindRemoveUser, User: u}
}
func AddLocalUser(m UserMapping) Instruction {
	return Instruction{Kind: KindAddLocalUser, Mapping: m}
}
func RemoveLocalUser(m UserMapping) Instruction {
	return Instruction{Kind: KindRemoveLocalUser, Mapping: m}
}
func UpdateHomeDir(u UserIdentifier, path string) Instruction {
	return Instruction{Kind: KindUpdateHomeDir, User: u, HomeDir: path}
}
func CreateProject(p ProjectIdentifier, details string) Instruction {
	return Instruction{Kind: KindCreateProject, Project: p, Details: details}
}
func RemoveProject(p ProjectIdentifier) Instruction {
	return Instruction{Kind: KindRemoveProject, Project: p}
}
func UpdateProject(p ProjectIdentifier, details string) Instruction {
	return Instruction{Kind: KindUpdateProject, Project: p, Details: details}
}
func GetProject(p ProjectIdentifier) Instruction { return Instruction{Kind: KindGetProject, Project: p} }
func GetProjects(portal PortalIdentifier) Instruction {
	return Instruction{Kind: KindGetProjects, Portal: portal}
}
func GetProjectMapping(p ProjectIdentifier) Instruction {
	return Instruction{Kind: KindGetProjectMapping, Project: p}
}
func GetUserMapping(u UserIdentifier) Instruction {
	return Instruction{Kind: KindGetUserMapping, User: u}
}
func GetUsers(p ProjectIdentifier) Instruction { return Instruction{Kind: KindGetUsers, Project: p} }
func GetUsageReport(p ProjectIdentifier, dates DateRange) Instruction {
	return Instruction{Kind: KindGetUsageReport, Project: p, Dates: dates}
}
func GetUsageReports(portal PortalIdentifier, dates DateRange) Instruction {
	return Instruction{Kind: KindGetUsageReports, Portal: portal, Dates: dates}
}
func IsProtectedUser(u UserIdentifier) Instruction {
	return Instruction{Kind: KindIsProtectedUser, User: u}
}

// String renders the single-line textual form: "<verb> <args...>", the
// exact inverse of ParseInstruction. Submit recursively renders its inner
// instruction as the trailing argument.
func (i Instruction) String() string {
	switch i.Kind {
	case KindSubmit:
		return string(i.Kind) + " " + i.SubmitDestination.String() + " " + i.SubmitInner.String()
	case KindAddUser, KindRemoveUser, KindGetUserMapping, KindIsProtectedUser:
		return string(i.Kind) + " " + i.User.String()
	case KindAddLocalUser, KindRemoveLocalUser:
		return string(i.Kind) + " " + i.Mapping.String()
	case KindUpdateHomeDir:
		return string(i.Kind) + " " + i.User.String() + " " + i.HomeDir
	case KindCreateProject, KindUpdateProject:
		return string(i.Kind) + " " + i.Project.String() + " " + i.Details
	case KindRemoveProject, KindGetProject, KindGetProjectMapping, KindGetUsers:
		return string(i.Kind) + " " + i.Project.String()
	case KindGetProjects:
		return string(i.Kind) + " " + i.Portal.String()
	case KindGetUsageReport:
		return string(i.Kind) + " " + i.Project.String() + " " + i.Dates.String()
	case KindGetUsageReports:
		return string(i.Kind) + " " + i.Portal.String() + " " + i.Dates.String()
	default:
		return string(i.Kind)
	}
}

// ParseInstruction splits on the first space to find the verb, then parses
// the remaining arguments according to that verb's grammar, mirroring the
// original's Instruction::parse dispatch.
func ParseInstruction(s string) (Instruction, error) {
	verb, rest, _ := strings.Cut(strings.TrimSpace(s), " ")
	rest = strings.TrimSpace(rest)

	switch InstructionKind(verb) {
	case KindSubmit:
		destStr, inner, found := strings.Cut(rest, " ")
		if !found {
			return Instruction{}, New(KindParse, "submit requires a destination and inner instruction")
		}
		dest, err := NewDestination(destStr)
		if err != nil {
			return Instruction{}, err
		}
		innerInst, err := ParseInstruction(inner)
		if err != nil {
			return Instruction{}, err
		}
		return Submit(dest, innerInst), nil

	case KindAddUser:
		u, err := ParseUserIdentifier(rest)
		if err != nil {
			return Instruction{}, err
		}
		return AddUser(u), nil

	case KindRemoveUser:
		u, err := ParseUserIdentifier(rest)
		if err != nil {
			return Instruction{}, err
		}
		return RemoveUser(u), nil

	case KindAddLocalUser:
		m, err := ParseUserMapping(rest)
		if err != nil {
			return Instruction{}, err
		}
		return AddLocalUser(m), nil

	case KindRemoveLocalUser:
		m, err := ParseUserMapping(rest)
		if err != nil {
			return Instruction{}, err
		}
		return RemoveLocalUser(m), nil

	case KindUpdateHomeDir:
		userStr, path, found := strings.Cut(rest, " ")
		if !found {
			return Instruction{}, New(KindParse, "update_home_dir requires a user and a path")
		}
		u, err := ParseUserIdentifier(userStr)
		if err != nil {
			return Instruction{}, err
		}
		return UpdateHomeDir(u, path), nil

	case KindCreateProject:
		projStr, details, _ := strings.Cut(rest, " ")
		p, err := ParseProjectIdentifier(projStr)
		if err != nil {
			return Instruction{}, err
		}
		return CreateProject(p, details), nil

	case KindRemoveProject:
		p, err := ParseProjectIdentifier(rest)
		if err != nil {
			return Instruction{}, err
		}
		return RemoveProject(p), nil

	case KindUpdateProject:
		projStr, details, _ := strings.Cut(rest, " ")
		p, err := ParseProjectIdentifier(projStr)
		if err != nil {
			return Instruction{}, err
		}
		return UpdateProject(p, details), nil

	case KindGetProject:
		p, err := ParseProjectIdentifier(rest)
		if err != nil {
			return Instruction{}, err
		}
		return GetProject(p), nil

	case KindGetProjects:
		portal, err := ParsePortalIdentifier(rest)
		if err != nil {
			return Instruction{}, err
		}
		return GetProjects(portal), nil

	case KindGetProjectMapping:
		p, err := ParseProjectIdentifier(rest)
		if err != nil {
			return Instruction{}, err
		}
		return GetProjectMapping(p), nil

	case KindGetUserMapping:
		u, err := ParseUserIdentifier(rest)
		if err != nil {
			return Instruction{}, err
		}
		return GetUserMapping(u), nil

	case KindGetUsers:
		p, err := ParseProjectIdentifier(rest)
		if err != nil {
			return Instruction{}, err
		}
		return GetUsers(p), nil

	case KindGetUsageReport:
		projStr, datesStr, found := strings.Cut(rest, " ")
		if !found {
			return Instruction{}, New(KindParse, "get_usage_report requires a project and a date range")
		}
		p, err := ParseProjectIdentifier(projStr)
		if err != nil {
			return Instruction{}, err
		}
		dates, err := ParseDateRange(datesStr)
		if err != nil {
			return Instruction{}, err
		}
		return GetUsageReport(p, dates), nil

	case KindGetUsageReports:
		portalStr, datesStr, found := strings.Cut(rest, " ")
		if !found {
			return Instruction{}, New(KindParse, "get_usage_reports requires a portal and a date range")
		}
		portal, err := ParsePortalIdentifier(portalStr)
		if err != nil {
			return Instruction{}, err
		}
		dates, err := ParseDateRange(datesStr)
		if err != nil {
			return Instruction{}, err
		}
		return GetUsageReports(portal, dates), nil

	case KindIsProtectedUser:
		u, err := ParseUserIdentifier(rest)
		if err != nil {
			return Instruction{}, err
		}
		return IsProtectedUser(u), nil

	default:
		return Instruction{}, New(KindParse, "unrecognised instruction verb %q", verb)
	}
}

// MarshalJSON encodes the instruction as its single-line textual form, the
// same string that is written to audit logs and the disk grammar.
func (i Instruction) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.String())
}

func (i *Instruction) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseInstruction(s)
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
