// Package linking implements the cryptographic half of companion linking.
//
// The device publishes a PairingPayload (ephemeral X25519 key, nonce, ADV
// secret, identity key, expiry) through an out-of-band channel. The primary
// device answers with a LinkConfirmation naming its identity and ratchet
// keys plus the account, device and session identifiers it assigned.
//
// A confirmation is accepted only if all of the following hold:
//
//   - it answers this payload's ref and nonce
//   - its ADV MAC verifies under the payload's ADV secret, proving the
//     confirmer saw the payload
//   - its signature verifies under the primary identity key it names
//
// Both sides then derive 96 bytes of session material with HKDF-SHA256
// over X25519(ephemeral, primary ratchet), salted with the nonce:
// root key, device-to-primary chain key, primary-to-device chain key.
package linking
