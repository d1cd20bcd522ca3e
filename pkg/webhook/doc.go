// Package webhook terminates the identity provider's change notification
// deliveries.
//
// A delivery moves through three states: verified (signature checked against
// the raw body), classified (event type parsed and routed), and resolved
// (the store mutation committed). Verification always happens before the
// body is parsed — parsing first would open a signature bypass through
// reserialization. The endpoint answers 2xx only once the notification is
// fully resolved; anything else makes the provider redeliver, which is safe
// because every resolver path is idempotent.
package webhook
