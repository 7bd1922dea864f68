// Package transport defines the boundary between a voxflow pipeline and the
// network: a Transport provides inbound frames for the task to queue and
// consumes the frames that reach the output boundary. It also defines the
// wire format shared by all transport implementations.
package transport

import (
	"context"

	"github.com/voxflow/voxflow/pkg/frame"
)

// Transport is the narrow contract a network integration implements. The
// pipeline core never sees anything wider; concrete transports (WebSocket,
// WebRTC, a local device) live in subpackages or outside the module.
type Transport interface {
	// Frames delivers inbound frames in arrival order. The channel is
	// closed when the peer disconnects or the transport is closed.
	Frames() <-chan frame.Frame

	// Send writes one outbound frame to the peer. Frames with no wire
	// representation (e.g. Metrics) are ignored without error.
	Send(ctx context.Context, f frame.Frame) error

	// Close releases the underlying connection. Safe to call more than
	// once.
	Close() error
}
