// Package policy decides which role may perform which emergency operation.
package policy

import (
	"strings"

	"SafeHaven/pkg/errors"
)

type Role string

const (
	RoleCitizen   Role = "citizen"
	RoleVolunteer Role = "volunteer"
	RolePolice    Role = "police"
	RoleAdmin     Role = "admin"
)

// Roles all known roles in ascending privilege
var Roles = []Role{RoleCitizen, RoleVolunteer, RolePolice, RoleAdmin}

type Capability string

const (
	TriggerOwnSos      Capability = "trigger_own_sos"
	CancelOwnSos       Capability = "cancel_own_sos"
	ViewOwnSos         Capability = "view_own_sos"
	ViewAllActiveSos   Capability = "view_all_active_sos"
	ResolveSos         Capability = "resolve_sos"
	ViewSosStats       Capability = "view_sos_stats"
	ViewOthersLocation Capability = "view_others_location"
	ViewActiveUsersMap Capability = "view_active_users_map"
)

var tiers = map[Role]int{
	RoleCitizen:   1,
	RoleVolunteer: 2,
	RolePolice:    3,
	RoleAdmin:     4,
}

// minimum tier required for each capability
var requirements = map[Capability]int{
	TriggerOwnSos:      1,
	CancelOwnSos:       1,
	ViewOwnSos:         1,
	ViewSosStats:       2,
	ViewOthersLocation: 2,
	ViewActiveUsersMap: 2,
	ViewAllActiveSos:   3,
	ResolveSos:         3,
}

// ParseRole normalizes a role string; unknown values are returned as-is and hold no capabilities
func ParseRole(s string) Role {
	return Role(strings.ToLower(strings.TrimSpace(s)))
}

// Tier 0 for unknown roles
func (r Role) Tier() int { return tiers[r] }

func (r Role) Valid() bool { return r.Tier() > 0 }

// AtLeast reports whether r ranks at or above other
func (r Role) AtLeast(other Role) bool {
	return r.Valid() && r.Tier() >= other.Tier()
}

// HasCapability pure and total: unknown roles and unknown capabilities are denied
func HasCapability(role Role, cap Capability) bool {
	need, ok := requirements[cap]
	if !ok {
		return false
	}
	tier := role.Tier()
	return tier > 0 && tier >= need
}

// Require returns an authorization error when role lacks cap
func Require(role Role, cap Capability) error {
	if HasCapability(role, cap) {
		return nil
	}
	return errors.Authorization("role is not allowed to " + string(cap)).
		WithContext("role", string(role)).
		WithContext("capability", string(cap))
}

// RolesWith lists the known roles holding cap, lowest first
func RolesWith(cap Capability) []Role {
	var out []Role
	for _, r := range Roles {
		if HasCapability(r, cap) {
			out = append(out, r)
		}
	}
	return out
}

// SeesAllUsers police and admin see every recently active user; lower tiers only see sharing users
func SeesAllUsers(role Role) bool {
	return role.AtLeast(RolePolice)
}

// ClampRadius applies the per-role search radius ceiling; 0 means unrestricted
func ClampRadius(role Role, requested, volunteerMax float64) float64 {
	if SeesAllUsers(role) || volunteerMax <= 0 {
		return requested
	}
	if requested > volunteerMax {
		return volunteerMax
	}
	return requested
}
