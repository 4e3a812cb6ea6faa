package types

import "time"

// DeviceIdentity is the public view of this device's long-term identity.
// The signing private key stays inside the key store.
type DeviceIdentity struct {
	DeviceID   DeviceID      `json:"device_id"`
	SigningKey Ed25519Public `json:"signing_key"`
	CreatedAt  time.Time     `json:"created_at"`
}
