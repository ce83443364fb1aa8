package service

import (
	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/domain/entity"
)

// ClientConn is the router's view of one attached client connection.
//
// Implementations must make Send non-blocking with respect to the caller
// (buffer internally and fail fast when the peer cannot drain): a slow
// client must never stall the conversation pump. The connection identity
// returned by ID is the basis of the attach handshake's "same physical
// connection" comparison, so it must be stable for the life of the socket
// and unique across sockets.
type ClientConn interface {
	// ID returns the stable connection identity.
	ID() string
	// Send queues one event for delivery. An error means the connection is
	// no longer usable and will be detached.
	Send(ev *entity.Event) error
	// Close tears the connection down. Displaced clients are closed
	// silently, without a farewell event.
	Close() error
}
