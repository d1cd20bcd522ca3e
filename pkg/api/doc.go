// Package api assembles the HTTP surface: the provider webhook endpoint and
// the small read-side API the frontends use to ask who the caller is and
// where they should land after sign-in.
package api
