// Package crypto exposes the minimal primitives used by tether.
//
// Contents
//
//   - X25519 key generation, clamping and Diffie–Hellman (GenerateX25519, DH)
//   - Ed25519 key generation, signing and verification (GenerateEd25519,
//     SignEd25519, VerifyEd25519)
//   - HKDF-SHA256 expansion (HKDF)
//   - Best-effort memory wiping for sensitive byte slices (Wipe)
//   - Short public-key fingerprints and device ids for display (Fingerprint,
//     DeviceIDFor)
//
// # Notes
//
// Key generation returns fixed-size array types defined in internal/domain.
// Operations that consume private keys take byte slices so that callers can
// pass views into locked memory (see internal/secret) without copying.
package crypto
