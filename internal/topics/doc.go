// Package topics renders topic-name templates against the device identity.
//
// Templates carry {IATA} and {PUBLIC_KEY} placeholders, substituted from
// the site code and the repeater's public key. Each destination may
// override individual templates, or just the IATA code, without touching
// the global set. Validate runs at startup so an unresolvable template is
// a configuration error rather than a malformed topic at publish time.
package topics
