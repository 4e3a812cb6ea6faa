// Package domain holds the vocabulary shared by every tether component:
// identities, sessions, envelopes, history records, the error taxonomy and
// the store and service contracts. It has no behaviour of its own beyond
// small helpers on those types.
package domain
