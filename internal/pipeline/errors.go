package pipeline

import "errors"

// Error kinds. Step errors wrap exactly one of these so callers can classify
// a failure with errors.Is.
var (
	ErrFetch     = errors.New("fetch failed")
	ErrStore     = errors.New("upload failed")
	ErrTransform = errors.New("transform failed")
	ErrScratch   = errors.New("scratch storage failed")
	ErrHandoff   = errors.New("invalid handoff")
)
