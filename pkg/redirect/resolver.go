package redirect

import (
	"strings"

	"github.com/marrygold/usher/pkg/identity"
)

// Hint describes where the sign-in flow started, read from the caller's
// ambient context: the stored continuation hint, or the current path.
type Hint string

const (
	HintNone   Hint = ""
	HintStudio Hint = "studio"
)

// Resolver computes post-sign-in destinations.
type Resolver struct {
	source RulesSource
}

// NewResolver creates a Resolver over a rule source.
func NewResolver(source RulesSource) *Resolver {
	if source == nil {
		source = Static(DefaultRules())
	}
	return &Resolver{source: source}
}

// Resolve returns the one destination for a caller. Decision order:
//
//  1. An explicit continue path is honored if it is a same-origin relative
//     path and does not target a blocked destination (the admin area or an
//     auth-flow page, which would loop the caller back into the flow they
//     just finished).
//  2. Otherwise the role picks the default: vendor portal, admin panel, or
//     the site root — except that a studio ambient hint routes the standard
//     role into the studio sub-application instead.
//
// The hint never overrides vendor or admin; those roles have a single
// unambiguous home.
func (r *Resolver) Resolve(role identity.Role, continuePath string, hint Hint) string {
	rules := r.source.Rules()

	if path, ok := sanitizeContinue(rules, continuePath); ok {
		return path
	}

	switch role {
	case identity.RoleVendor:
		return rules.VendorRoot
	case identity.RoleAdmin:
		return rules.AdminRoot
	default:
		if hint == HintStudio {
			return rules.StudioRoot
		}
		return rules.SiteRoot
	}
}

// HintFromPath derives the ambient hint from the path the caller signed in
// from.
func (r *Resolver) HintFromPath(current string) Hint {
	studio := r.source.Rules().StudioRoot
	if current == studio || strings.HasPrefix(current, studio+"/") {
		return HintStudio
	}
	return HintNone
}

// sanitizeContinue accepts only same-origin relative paths outside the
// blocked prefixes.
func sanitizeContinue(rules Rules, path string) (string, bool) {
	if path == "" {
		return "", false
	}
	// Reject anything that a browser could interpret as leaving the origin:
	// absolute URLs, scheme-relative ("//host"), and backslash variants.
	if !strings.HasPrefix(path, "/") {
		return "", false
	}
	if strings.HasPrefix(path, "//") || strings.HasPrefix(path, "/\\") {
		return "", false
	}
	if strings.Contains(path, "://") {
		return "", false
	}

	clean := path
	if i := strings.IndexAny(clean, "?#"); i >= 0 {
		clean = clean[:i]
	}
	for _, prefix := range rules.BlockedPrefixes {
		if clean == prefix || strings.HasPrefix(clean, prefix+"/") {
			return "", false
		}
	}
	return path, true
}
