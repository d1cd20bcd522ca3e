package identity

import "time"

// Role is the internal access role for a marketplace account.
type Role string

const (
	RoleStandard Role = "standard" // couples and guests on the consumer site
	RoleVendor   Role = "vendor"   // vendor portal access
	RoleAdmin    Role = "admin"    // admin panel access
)

// ValidRole reports whether r is one of the closed enum values.
func ValidRole(r Role) bool {
	switch r {
	case RoleStandard, RoleVendor, RoleAdmin:
		return true
	}
	return false
}

// ParseRole maps a raw role string onto the closed enum. Unrecognized values
// map to RoleStandard rather than failing; a record may never carry a role
// outside the enum.
func ParseRole(raw string) Role {
	if r := Role(raw); ValidRole(r) {
		return r
	}
	return RoleStandard
}

// SignupIntent is the external-facing classification a person chooses at
// signup time ("I am signing up as a vendor"). It is the provider-side
// vocabulary; internal code maps it through IntentToRole at the boundary and
// never reasons about it directly.
type SignupIntent string

const (
	IntentCustomer SignupIntent = "customer"
	IntentVendor   SignupIntent = "vendor"
	IntentAdmin    SignupIntent = "admin"
)

// Identity is the internally-owned user record mirrored from the provider.
type Identity struct {
	ID          string    `json:"id"`
	ExternalID  string    `json:"external_id,omitempty"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name,omitempty"`
	AvatarRef   string    `json:"avatar_ref,omitempty"`
	Role        Role      `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TrustedMetadata holds provider-stored fields settable only by privileged
// backend or admin action. A role here is authoritative.
type TrustedMetadata struct {
	Role string `json:"role,omitempty"`
}

// UntrustedMetadata holds provider-stored fields the end user can set at
// signup. Values here are attacker-controllable and only ever feed the
// intent mapping, never a role directly.
type UntrustedMetadata struct {
	SignupIntent string `json:"signup_intent,omitempty"`
}

// Notification is a verified change notification from the identity provider,
// already parsed out of the wire envelope. It is ephemeral; nothing persists
// it.
type Notification struct {
	ExternalID  string
	Email       string
	DisplayName string
	AvatarRef   string
	Trusted     TrustedMetadata
	Untrusted   UntrustedMetadata
}

// DeriveRole applies the role precedence: trusted-tier role, then
// untrusted-tier signup intent, then the default.
func (n *Notification) DeriveRole() Role {
	if n.Trusted.Role != "" {
		return ParseRole(n.Trusted.Role)
	}
	if n.Untrusted.SignupIntent != "" {
		return IntentToRole(SignupIntent(n.Untrusted.SignupIntent))
	}
	return RoleStandard
}

// AuthContext carries the authenticated caller for a single request. It is
// populated once per request from a validated session token and never
// mutated afterwards; handlers read it instead of any shared session state.
type AuthContext struct {
	Identity *Identity
}

// Anonymous reports whether the request carries no authenticated identity.
func (a *AuthContext) Anonymous() bool {
	return a == nil || a.Identity == nil
}

// Role returns the caller's role, defaulting to RoleStandard for anonymous
// callers.
func (a *AuthContext) Role() Role {
	if a.Anonymous() {
		return RoleStandard
	}
	return a.Identity.Role
}
