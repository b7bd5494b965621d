// Package resolve turns a raw identifier string into a canonical
// message handle.
//
// The three identifier spaces need three different strategies: API
// ids fetch directly, Message-ID headers go through a provider search
// first, and URL ids cannot be fetched at all.  Failing fast and
// specifically on the last case matters: a direct fetch with a URL id
// would come back "not found", indistinguishable from a message that
// genuinely does not exist.
package resolve

import (
	"context"
	"strings"

	"github.com/HangSHI/SmartEventAdder/internal/gmail"
	"github.com/HangSHI/SmartEventAdder/internal/message"
	"github.com/HangSHI/SmartEventAdder/internal/msgid"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	// ErrNotFound reports that the identifier classified cleanly
	// but no message matches it.
	ErrNotFound = errors.New("no message matches the identifier")

	// ErrUnsupportedFormat reports a URL-space identifier, which
	// is disjoint from the API identifier space and cannot be
	// fetched.
	ErrUnsupportedFormat = errors.New("URL message identifiers cannot be fetched through the API; use the Message-ID header instead")

	// ErrAmbiguous reports a degenerate header search result.
	ErrAmbiguous = errors.New("header search returned an unusable candidate")
)

// MessageSource is the provider capability the resolver needs.
type MessageSource interface {
	FetchByID(ctx context.Context, id string) (*message.CanonicalMessage, error)
	SearchByHeader(ctx context.Context, header string) ([]string, error)
}

// Resolver classifies raw identifiers and resolves them through a
// MessageSource.
type Resolver struct {
	src MessageSource
	log *zap.Logger
}

func New(src MessageSource, log *zap.Logger) *Resolver {
	return &Resolver{src: src, log: log}
}

// Resolve classifies raw and fetches the canonical message.  API ids
// fetch directly.  Header identifiers search first and fetch the
// first hit; Message-ID headers are globally unique in practice, so
// multiple hits are logged and the first wins.  URL ids fail with
// ErrUnsupportedFormat.
func (r *Resolver) Resolve(ctx context.Context, raw string) (*message.CanonicalMessage, error) {
	raw = strings.TrimSpace(raw)
	kind, err := msgid.Classify(raw)
	if err != nil {
		return nil, err
	}

	switch kind {
	case msgid.KindAPIID:
		return r.fetch(ctx, raw)

	case msgid.KindHeader:
		ids, err := r.src.SearchByHeader(ctx, raw)
		if err != nil {
			return nil, errors.Wrapf(err, "searching for header %q", raw)
		}
		if len(ids) == 0 {
			return nil, errors.Wrapf(ErrNotFound, "header %q", raw)
		}
		if len(ids) > 1 {
			r.log.Warn("header search matched multiple messages, taking the first",
				zap.String("header", raw),
				zap.Int("hits", len(ids)))
		}
		if ids[0] == "" {
			return nil, errors.Wrapf(ErrAmbiguous, "header %q", raw)
		}
		return r.fetch(ctx, ids[0])

	case msgid.KindURLID:
		return nil, errors.Wrapf(ErrUnsupportedFormat, "identifier %q", raw)
	}
	return nil, errors.Wrapf(msgid.ErrInvalidFormat, "identifier %q", raw)
}

func (r *Resolver) fetch(ctx context.Context, id string) (*message.CanonicalMessage, error) {
	m, err := r.src.FetchByID(ctx, id)
	if err != nil {
		if errors.Cause(err) == gmail.ErrMessageNotFound {
			return nil, errors.Wrapf(ErrNotFound, "message id %q", id)
		}
		return nil, err
	}
	return m, nil
}
