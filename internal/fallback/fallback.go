// Package fallback implements an ordered first-success-wins chain.
//
// The same shape shows up three times in this program: timezone
// resolution tries several settings sources before settling on UTC,
// the calendar committer tries a full-featured API before a narrower
// one, and the body decoder tries several encoding assumptions.  Each
// caller supplies an ordered list of sources; the first one to return
// without error wins and no later source runs.
package fallback

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Source is one named alternative in a chain.
type Source[T any] struct {
	Name string
	Get  func(ctx context.Context) (T, error)
}

// First runs sources in order and returns the first successful value
// together with the name of the source that produced it.  If every
// source fails the returned error carries each source's failure, in
// order, so diagnostics reference all attempts.
func First[T any](ctx context.Context, sources ...Source[T]) (T, string, error) {
	var zero T
	var failures []string
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}
		v, err := src.Get(ctx)
		if err == nil {
			return v, src.Name, nil
		}
		failures = append(failures, fmt.Sprintf("%s: %v", src.Name, err))
	}
	return zero, "", errors.Errorf("all sources failed: %s", strings.Join(failures, "; "))
}
