package marker

import "errors"

var (
	// ErrMalformedFragment is returned when a message holds more than one
	// annotation container.
	ErrMalformedFragment = errors.New("ill-formed message: more than one annotation container found")

	// ErrDuplicateIdentity is returned when two context entries inside one
	// container share an id.
	ErrDuplicateIdentity = errors.New("more than one context entry with the same id")

	// ErrCorruptEndMarker is returned when the end marker of a prior
	// container cannot be found in the literal message text.
	ErrCorruptEndMarker = errors.New("ill-formed prior context: end marker not found")

	// ErrMissingClosingTag is returned by NewCodec when the container
	// template does not end with a closing tag.
	ErrMissingClosingTag = errors.New("ill-formed container: no closing tag found at end of template")
)
