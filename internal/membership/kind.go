package membership

import "slices"

// Profile categories referenced by the relationship rules
const (
	CategoryPerson = "person"
	CategoryBand   = "band"
	CategoryPlace  = "place"
	CategoryCrew   = "crew"

	RoleSchool = "school"
)

// Kind describes one relationship table. Band and school relationships share
// the same lifecycle and differ only in storage and which profiles may take part.
type Kind struct {
	Name             string
	Table            string
	OrgColumn        string
	IndividualColumn string
	DefaultRole      string
	// ActivePairIndex names the partial unique index guarding the pair
	ActivePairIndex string
	orgAccepts      func(category string, roles []string) bool
}

var (
	Band = Kind{
		Name:             "band",
		Table:            "band_members",
		OrgColumn:        "band_id",
		IndividualColumn: "member_id",
		DefaultRole:      "member",
		ActivePairIndex:  "band_members_active_pair",
		orgAccepts: func(category string, _ []string) bool {
			return category == CategoryBand
		},
	}

	School = Kind{
		Name:             "school",
		Table:            "school_teachers",
		OrgColumn:        "school_id",
		IndividualColumn: "teacher_id",
		DefaultRole:      "teacher",
		ActivePairIndex:  "school_teachers_active_pair",
		orgAccepts: func(category string, roles []string) bool {
			return category == CategoryPlace && slices.Contains(roles, RoleSchool)
		},
	}
)

// Kinds returns every relationship kind
func Kinds() []Kind {
	return []Kind{Band, School}
}

// AcceptsOrganization reports whether a profile may sit on the organization side
func (k Kind) AcceptsOrganization(category string, roles []string) bool {
	return k.orgAccepts != nil && k.orgAccepts(category, roles)
}

// AcceptsIndividual reports whether a profile may sit on the individual side
func (k Kind) AcceptsIndividual(category string) bool {
	return category == CategoryPerson
}

// RoleOrDefault returns role, or the kind's default when role is blank
func (k Kind) RoleOrDefault(role string) string {
	if role == "" {
		return k.DefaultRole
	}
	return role
}
