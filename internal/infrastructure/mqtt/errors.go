package mqtt

import "errors"

var (
	// ErrNotConnected means the broker session is down (or never came up).
	ErrNotConnected = errors.New("mqtt: not connected")

	// ErrConnectionFailed wraps the cause of a failed initial Connect.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed wraps encode, size, timeout and broker errors from Publish.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	ErrInvalidQoS   = errors.New("mqtt: qos must be 0, 1 or 2")
	ErrInvalidTopic = errors.New("mqtt: empty topic")
)
