// Package remote validates and executes signed commands received over a
// destination's commands topic.
//
// A request is an EdDSA JWT naming its issuer, target repeater, command
// text, nonce and expiry. The arbiter checks, in order: the target is
// this repeater, the issuer is allow-listed, the request has not
// expired, the nonce has not been accepted before, and the signature
// verifies against the issuer's key. Any failed check drops the request
// with a logged reason and no response, so a probing sender cannot tell
// which check failed.
//
// Accepted commands are screened against disallowed prefixes (key
// material and factory-reset commands), executed serially against the
// device channel, and answered with a response signed by the device key
// on the destination the request arrived on.
//
// Nonces live in SQLite so a restart does not reopen the replay window.
// Expiry checks are only trustworthy after the runtime's clock-sync
// wait at startup.
package remote
