package engine

import (
	"context"

	"github.com/goccy/go-json"

	qerrors "github.com/guileen/crossquery/engine/errors"
	"github.com/guileen/crossquery/types"
)

// stage is one step of an execution pipeline. Stages wrap each other from
// the outermost (TOP, OFFSET/LIMIT) to the one that reads partitions.
type stage interface {
	// next returns the next page. hint > 0 is the number of items the
	// caller can still use; stages that read partitions cap fetches by it.
	next(ctx context.Context, hint int) ([]types.Item, error)
	// done reports whether every item has been returned.
	done() bool
	// state is the resume state after the last page, or an error when the
	// stage cannot be resumed.
	state() (any, error)
}

// sourceToken renders the state of an inner stage for embedding in the
// token of the stage wrapping it.
func sourceToken(s stage) (json.RawMessage, error) {
	if s.done() {
		return json.RawMessage("null"), nil
	}
	st, err := s.state()
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return nil, qerrors.Wrap(err, qerrors.ErrCodeInternal, "engine.state")
	}
	return raw, nil
}
