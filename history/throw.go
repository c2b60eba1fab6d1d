// SPDX-License-Identifier: BSD-2-Clause

package history

import (
	"errors"
	"fmt"
)

// Fatal conditions. Everything else the engine trips over is recovered
// and reported through the Sink.
var (
	// ErrAmbiguousParent means branch-parent inference found two
	// equally deep candidates, or a cycle.
	ErrAmbiguousParent = errors.New("ambiguous branch parent")
	// ErrLabelVersionsMissing means a label needs versions that are not
	// anywhere in the remaining changeset stream.
	ErrLabelVersionsMissing = errors.New("label versions missing from changeset stream")
	// ErrLinearization means the final ordering could not be made
	// consistent with branching points and merges.
	ErrLinearization = errors.New("inconsistent changeset ordering")
	// ErrResume means saved state names a branch tip without the view
	// that goes with it.
	ErrResume = errors.New("inconsistent resume state")
)

// Go's panic/defer/recover is a weak primitive for catchable exceptions,
// but it lets deeply nested sequencing code bail out without threading
// an error through every helper. throw() builds the payload for panic(),
// catch() runs in a deferred function at a package entry point and turns
// the payload back into an error.
//
// The only class used here is "fatal". Unlabeled panics are bugs and are
// passed through.

type exception struct {
	class string
	err   error
}

func (e exception) Error() string {
	return e.err.Error()
}

func throw(class string, sentinel error, msg string, args ...interface{}) *exception {
	return &exception{class: class, err: fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(msg, args...))}
}

func catch(accept string, x interface{}) *exception {
	if x == nil {
		return nil
	}
	if e, ok := x.(*exception); ok && e.class == accept {
		return e
	}
	panic(x)
}

// guard converts a thrown fatal exception into the named error result.
// Use as: defer guard(&err)
func guard(err *error) {
	if e := catch("fatal", recover()); e != nil {
		*err = e.err
	}
}
