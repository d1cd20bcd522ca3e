package identity

// IntentToRole translates a signup intent into an internal role. The mapping
// is total: anything outside the known intent vocabulary maps to
// RoleStandard.
func IntentToRole(intent SignupIntent) Role {
	switch intent {
	case IntentCustomer:
		return RoleStandard
	case IntentVendor:
		return RoleVendor
	case IntentAdmin:
		return RoleAdmin
	}
	return RoleStandard
}

// RoleToIntent is the inverse of IntentToRole. It is exhaustive over the
// closed role enum, so there is no error case; values outside the enum
// (which cannot occur for a stored record) map to IntentCustomer.
func RoleToIntent(role Role) SignupIntent {
	switch role {
	case RoleVendor:
		return IntentVendor
	case RoleAdmin:
		return IntentAdmin
	}
	return IntentCustomer
}
