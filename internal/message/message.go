package message

// This file provides the common data objects used by the rest of the
// program.

// CanonicalMessage is the single authoritative handle for an email,
// obtained after identifier resolution.  It is valid for one workflow
// invocation and is never persisted.
type CanonicalMessage struct {
	// The permanent and unique ID of the message in the mail
	// provider's API identifier space.
	ID string

	// The permanent and unique ID of the thread associated with
	// the message.  May be empty.
	ThreadID string

	// Denormalized header values, as reported by the provider.
	Subject string
	From    string
	Date    string

	// The RFC 2822 Message-ID header value, when present.
	HeaderID string

	// The root of the message body part tree.  May be nil for
	// messages with no body at all.
	Payload *Part
}

// Part is a node in a message body tree.  A leaf holds transport
// encoded content directly; an interior node holds an ordered list of
// children.  A node with neither contributes no text.
type Part struct {
	// MIME type of this part, e.g. "text/plain" or "text/html".
	MimeType string

	// Base64url encoded body data.  Empty for interior nodes and
	// for empty leaf parts.
	Body string

	// Child parts, in original order.
	Parts []*Part
}

// ContentSource records where the text of a NormalizedText came from,
// so callers can tell "empty because truly empty" apart from "empty
// because extraction failed".
type ContentSource int

const (
	// SourcePlain means the text came from one or more text/plain
	// leaf parts.
	SourcePlain ContentSource = iota

	// SourceHTML means no plain text existed anywhere in the tree
	// and the text was derived from markup.
	SourceHTML

	// SourceFailed means nothing could be recovered and the text
	// is the extraction sentinel.
	SourceFailed
)

func (s ContentSource) String() string {
	switch s {
	case SourcePlain:
		return "plain"
	case SourceHTML:
		return "html"
	case SourceFailed:
		return "failed"
	}
	return "unknown"
}

// ContentSourceFromString is the inverse of ContentSource.String,
// used when loading persisted workflows.
func ContentSourceFromString(s string) ContentSource {
	switch s {
	case "plain":
		return SourcePlain
	case "html":
		return SourceHTML
	}
	return SourceFailed
}

// NormalizedText is sanitized plain text plus its provenance.
type NormalizedText struct {
	Text   string
	Source ContentSource
}
