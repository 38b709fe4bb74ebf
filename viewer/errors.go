package viewer

import "errors"

var (
	// ErrUnsupportedPlatform is returned by NewAppViewer on operating systems where app processes can't be signaled.
	ErrUnsupportedPlatform = errors.New("platform not supported")

	// ErrFrontendUnreachable is returned by Show when the front-end never reported its base URL.
	ErrFrontendUnreachable = errors.New("front-end unreachable")

	// ErrServerNotStarted is returned by Show when the app did not report that it is serving.
	ErrServerNotStarted = errors.New("unable to start app server")
)
