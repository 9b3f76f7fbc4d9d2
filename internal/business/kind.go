// Package business implements the repeated workloads run by monkeys.
package business

import (
	"errors"
	"fmt"
)

// Kind identifies a business variant.
type Kind string

const (
	// KindIdle sleeps forever and never fails.
	KindIdle Kind = "Idle"

	// KindJupyterLoginLoop spawns and deletes a lab over and over.
	KindJupyterLoginLoop Kind = "JupyterLoginLoop"

	// KindJupyterJitterLoginLoop is KindJupyterLoginLoop with randomized waits.
	KindJupyterJitterLoginLoop Kind = "JupyterJitterLoginLoop"

	// KindJupyterPythonLoop executes a code fragment in a kernel repeatedly.
	KindJupyterPythonLoop Kind = "JupyterPythonLoop"

	// KindNotebookRunner executes whole notebooks cell by cell.
	KindNotebookRunner Kind = "NotebookRunner"

	// KindTAPQueryRunner issues queries to the TAP service.
	KindTAPQueryRunner Kind = "TAPQueryRunner"
)

// ErrUnknownKind is returned for a business name no variant answers to.
var ErrUnknownKind = errors.New("unknown business type")

var aliases = map[string]Kind{
	"QueryMonkey": KindTAPQueryRunner,
}

// AllKinds returns every supported business variant.
func AllKinds() []Kind {
	return []Kind{
		KindIdle,
		KindJupyterLoginLoop,
		KindJupyterJitterLoginLoop,
		KindJupyterPythonLoop,
		KindNotebookRunner,
		KindTAPQueryRunner,
	}
}

// ParseKind resolves a business name, accepting legacy aliases.
func ParseKind(name string) (Kind, error) {
	if k, ok := aliases[name]; ok {
		return k, nil
	}
	for _, k := range AllKinds() {
		if string(k) == name {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownKind, name)
}

// UnmarshalText lets specs name variants by their aliases.
func (k *Kind) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*k = ""
		return nil
	}
	parsed, err := ParseKind(string(text))
	if err != nil {
		// Keep the raw name so validation can report it.
		*k = Kind(text)
		return nil
	}
	*k = parsed
	return nil
}

// UsesJupyter reports whether the variant talks to the notebook platform.
func (k Kind) UsesJupyter() bool {
	switch k {
	case KindJupyterLoginLoop, KindJupyterJitterLoginLoop, KindJupyterPythonLoop, KindNotebookRunner:
		return true
	}
	return false
}

// newBehavior is the single dispatch point from Kind to behavior. It fails
// closed on anything not listed.
func newBehavior(spec Spec, p Params) (behavior, error) {
	switch spec.Kind {
	case KindIdle:
		return &idle{}, nil
	case KindJupyterLoginLoop:
		return newLoginLoop(p, 0)
	case KindJupyterJitterLoginLoop:
		return newLoginLoop(p, spec.Options.Jitter.GetDuration(DefaultJitter))
	case KindJupyterPythonLoop:
		return newPythonLoop(p)
	case KindNotebookRunner:
		return newNotebookRunner(p)
	case KindTAPQueryRunner:
		return newQueryRunner(p)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, spec.Kind)
	}
}
