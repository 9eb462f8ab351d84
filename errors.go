package pulse

import (
	"errors"

	"github.com/ygrebnov/errorc"
)

const Namespace = "pulse"

var (
	ErrKindConflict = errors.New(
		Namespace + ": metric is already defined with a different kind",
	)
	ErrScopeClosed   = errors.New(Namespace + ": scope is closed")
	ErrInvalidConfig = errors.New(Namespace + ": invalid configuration")
)

// kindConflict decorates ErrKindConflict with the conflicting definition.
func kindConflict(name string, existing, requested Kind) error {
	return errorc.With(ErrKindConflict,
		errorc.String("name", name),
		errorc.String("existing", existing.String()),
		errorc.String("requested", requested.String()),
	)
}
