// Package middleware resolves the current identity for each HTTP request.
//
// The provider's session token is verified once per request and the result
// attached to the request context as an explicit identity.AuthContext — no
// handler ever reads shared session state. Requests without a valid token
// proceed as anonymous; whether anonymity is acceptable is each handler's
// decision.
package middleware
