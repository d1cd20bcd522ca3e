// Package identity owns the internal identity record and its synchronization
// with the external identity provider.
//
// The provider is the system of record for authentication; this package keeps
// a Postgres-backed mirror of each user (external id, email, name, avatar,
// role) that the rest of the marketplace reads. Mirroring happens through
// change notifications delivered at-least-once and possibly out of order, so
// every mutation path here is idempotent and keyed on the store's uniqueness
// constraints rather than application-level locks.
//
// Role derivation follows a strict precedence: a role in the provider's
// trusted metadata tier wins over a signup intent in the untrusted tier,
// which wins over the default. The untrusted tier can never grant an
// elevated role directly.
package identity
