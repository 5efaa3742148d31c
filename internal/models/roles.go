package models

// Role is the authorization label attached to a user identity. The zero value
// is RoleUnresolved, so a role that was never fetched is never authorized.
type Role int

const (
	RoleUnresolved Role = iota
	RoleUnknown
	RoleProvider
	RoleContractor
)

// Role names as stored in the profiles table.
const (
	ProviderRoleName   = "prestador"
	ContractorRoleName = "contratante"
)

// ParseRole maps a stored role name to a Role. Unrecognised names become
// RoleUnknown and an empty name RoleUnresolved.
func ParseRole(name string) Role {
	switch name {
	case "":
		return RoleUnresolved
	case ProviderRoleName:
		return RoleProvider
	case ContractorRoleName:
		return RoleContractor
	default:
		return RoleUnknown
	}
}

// Authorized reports whether the role may use the provider application.
func (r Role) Authorized() bool {
	return r == RoleProvider
}

func (r Role) String() string {
	switch r {
	case RoleProvider:
		return ProviderRoleName
	case RoleContractor:
		return ContractorRoleName
	case RoleUnknown:
		return "unknown"
	default:
		return "unresolved"
	}
}

// MarshalText renders the role as its stored name.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}
