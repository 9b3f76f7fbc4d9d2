package business

import (
	"fmt"
	"strings"
	"time"

	"github.com/wesleyorama2/mobu/internal/config"
)

// Option defaults.
const (
	DefaultIdleTime          = 60 * time.Second
	DefaultLoginWait         = 60 * time.Second
	DefaultExecutionIdleTime = 1 * time.Second
	DefaultSpawnSettleTime   = 10 * time.Second
	DefaultJitter            = 30 * time.Second
	DefaultMaxExecutions     = 25
	DefaultCode              = "print(2+2)"
	DefaultQueryInterval     = 60 * time.Second
	DefaultDeleteTimeout     = 60 * time.Second
	DefaultQuery             = "SELECT TOP 10 * FROM TAP_SCHEMA.tables"
)

// Spec selects a business variant and configures it.
type Spec struct {
	Kind    Kind    `json:"type" yaml:"type"`
	Options Options `json:"options,omitempty" yaml:"options,omitempty"`
}

// Options configures a business. Each variant reads only the fields it needs;
// zero values select the defaults above.
type Options struct {
	// IdleTime is the sleep of Idle and the pause between login cycles.
	IdleTime config.Duration `json:"idle_time,omitempty" yaml:"idle_time,omitempty"`

	// LoginWait is how long a spawned lab is held before deletion.
	LoginWait config.Duration `json:"login_wait,omitempty" yaml:"login_wait,omitempty"`

	// ExecutionIdleTime is the pause between code executions or notebooks.
	ExecutionIdleTime config.Duration `json:"execution_idle_time,omitempty" yaml:"execution_idle_time,omitempty"`

	// SpawnSettleTime is the pause between lab spawn and first session.
	SpawnSettleTime config.Duration `json:"spawn_settle_time,omitempty" yaml:"spawn_settle_time,omitempty"`

	// Jitter is the upper bound of the random delay added to each wait of
	// the jitter login loop.
	Jitter config.Duration `json:"jitter,omitempty" yaml:"jitter,omitempty"`

	// MaxExecutions recycles the kernel session after this many executions.
	// Negative disables recycling.
	MaxExecutions int `json:"max_executions,omitempty" yaml:"max_executions,omitempty"`

	// Code is executed by JupyterPythonLoop.
	Code string `json:"code,omitempty" yaml:"code,omitempty"`

	// ExcludeNotebooks names notebooks NotebookRunner must skip.
	ExcludeNotebooks []string `json:"exclude_notebooks,omitempty" yaml:"exclude_notebooks,omitempty"`

	// Queries are ADQL templates; one is chosen at random per iteration.
	Queries []string `json:"queries,omitempty" yaml:"queries,omitempty"`

	// QueryParams fill {{name}} placeholders in Queries.
	QueryParams map[string]string `json:"query_params,omitempty" yaml:"query_params,omitempty"`

	// QueryInterval is the pause between queries.
	QueryInterval config.Duration `json:"query_interval,omitempty" yaml:"query_interval,omitempty"`

	// DeleteTimeout bounds cleanup calls made while stopping.
	DeleteTimeout config.Duration `json:"delete_timeout,omitempty" yaml:"delete_timeout,omitempty"`
}

// Validate checks the spec, adding problems to errs under prefix.
func (s *Spec) Validate(prefix string, errs *config.ValidationErrors) {
	if s.Kind == "" {
		errs.Add(prefix+".type", "business type is required")
	} else if _, err := ParseKind(string(s.Kind)); err != nil {
		errs.Add(prefix+".type", err.Error())
	}

	o := s.Options
	durations := []struct {
		name  string
		value config.Duration
	}{
		{"idle_time", o.IdleTime},
		{"login_wait", o.LoginWait},
		{"execution_idle_time", o.ExecutionIdleTime},
		{"spawn_settle_time", o.SpawnSettleTime},
		{"jitter", o.Jitter},
		{"query_interval", o.QueryInterval},
		{"delete_timeout", o.DeleteTimeout},
	}
	for _, d := range durations {
		if d.value < 0 {
			errs.Add(prefix+".options."+d.name, fmt.Sprintf("%s cannot be negative", d.name))
		}
	}

	for i, q := range o.Queries {
		if strings.TrimSpace(q) == "" {
			errs.Add(fmt.Sprintf("%s.options.queries[%d]", prefix, i), "query cannot be empty")
		}
	}
}

func (o Options) code() string {
	if o.Code == "" {
		return DefaultCode
	}
	return o.Code
}

func (o Options) maxExecutions() int {
	if o.MaxExecutions == 0 {
		return DefaultMaxExecutions
	}
	return o.MaxExecutions
}

func (o Options) queries() []string {
	if len(o.Queries) == 0 {
		return []string{DefaultQuery}
	}
	return o.Queries
}
