package interfaces

import "context"

// Conn is an established connection to the relay carrying whole frames.
type Conn interface {
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(ctx context.Context, frame []byte) error
	Close() error
}

// Dialer opens relay connections for the secure channel.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Rendezvous delivers the primary device's pairing confirmation.
type Rendezvous interface {
	// Open starts listening for ref before the payload is shown, so that a
	// fast confirmation cannot be missed.
	Open(ctx context.Context, ref string) (RendezvousWaiter, error)
}

// RendezvousWaiter waits for one confirmation.
type RendezvousWaiter interface {
	Wait(ctx context.Context) ([]byte, error)
	Close() error
}
