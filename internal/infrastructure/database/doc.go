// Package database provides the SQLite-backed local state store.
//
// The bridge keeps very little durable state: the nonce records used
// for remote command replay protection. Persisting them means a process
// restart does not reopen the replay window for recently accepted
// commands.
//
// The store is a single SQLite file opened in WAL mode with a busy
// timeout, pooled to one connection because SQLite supports a single
// writer. Schema ownership lives with the packages that use the store;
// this package only manages the connection lifecycle.
package database
