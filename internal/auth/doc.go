// Package auth produces and validates the signed tokens used for broker
// authentication and remote command envelopes.
//
// Token creation is delegated to the external meshcore-decoder utility,
// which understands MeshCore's 64-byte private key format. Created
// tokens are cached per destination and never served once their age is
// within a safety margin of the token lifetime.
//
// Envelope verification is local: companion issuer keys are plain
// Ed25519 public keys and command envelopes are standard EdDSA JWTs, so
// signature checks need no external process.
package auth
