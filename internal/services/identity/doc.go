// Package identity manages the device identity: creation on first use,
// fingerprints for out-of-band comparison and explicit re-registration.
//
// It also enforces the passphrase policy for newly created key stores.
package identity
