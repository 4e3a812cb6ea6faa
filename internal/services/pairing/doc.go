// Package pairing links this application to a primary account as a
// companion device.
//
// A Manager drives one LinkingSession at a time through an explicit state
// machine:
//
//	Idle ──Begin──▶ Pending ──valid confirmation──▶ Confirmed
//	                   │──────expiry──────────────▶ Expired
//	                   │──────bad confirmation────▶ Rejected
//	                   └──────Cancel──────────────▶ Idle
//
// Terminal states return to Idle on the next Begin. The ephemeral link key
// is held by the key store and destroyed when the attempt ends, whatever
// the outcome; only a Confirmed attempt leaves a DeviceSession behind.
package pairing
