package errno

import (
	"errors"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrNoActiveWorker       = errors.New("no active worker")
	ErrWorkerActive         = errors.New("worker already active")
	ErrWorkerExited         = errors.New("worker exited")
	ErrNotAttached          = errors.New("no client attached")
	ErrAborted              = errors.New("turn aborted")
	ErrMalformedEvent       = errors.New("malformed event")
)
