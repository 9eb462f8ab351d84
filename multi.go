package pulse

import (
	"errors"

	"go.uber.org/zap"
)

// Multi returns a scope that fans every definition, write, flush, and close
// out to all targets. A failure in one branch is collected but does not
// prevent delivery to the others.
func Multi(targets ...Scope) Scope {
	copied := make([]Scope, len(targets))
	copy(copied, targets)
	return &multi{targets: copied}
}

type multi struct {
	targets []Scope
}

func (m *multi) Metric(name string, kind Kind) (InputMetric, error) {
	writes := make([]InputMetric, 0, len(m.targets))
	var errs []error
	for _, t := range m.targets {
		w, err := t.Metric(name, kind)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		writes = append(writes, w)
	}
	if len(writes) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	// A branch that rejected the definition is skipped; the rest still
	// receive the writes.
	for _, err := range errs {
		logger().Warn(Namespace+": branch rejected metric definition",
			zap.String("name", name), zap.Error(err))
	}
	return func(value int64, labels Labels) {
		for _, w := range writes {
			w(value, labels)
		}
	}, nil
}

func (m *multi) Flush() error {
	var errs []error
	for _, t := range m.targets {
		if err := t.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *multi) Close() error {
	var errs []error
	for _, t := range m.targets {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
