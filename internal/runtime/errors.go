package runtime

import "errors"

var (
	ErrContainerStartFailed = errors.New("failed to start container")

	ErrContainerStopFailed = errors.New("failed to stop container")

	ErrContainerRemoveFailed = errors.New("failed to remove container")
)
