package business

import (
	"context"
)

// pythonLoop executes one code fragment over and over in a kernel session,
// recycling the session every max_executions runs.
type pythonLoop struct {
	lab
}

func newPythonLoop(p Params) (*pythonLoop, error) {
	client, err := p.jupyter()
	if err != nil {
		return nil, err
	}
	return &pythonLoop{lab: lab{client: client}}, nil
}

func (l *pythonLoop) run(ctx context.Context, b *Business) error {
	o := b.options
	code := o.code()

	if err := l.login(ctx, b); err != nil {
		return err
	}
	if err := l.spawn(ctx, b); err != nil {
		return err
	}
	if err := b.Wait(ctx, "lab_settle", o.SpawnSettleTime.GetDuration(DefaultSpawnSettleTime)); err != nil {
		return err
	}

	for {
		if err := l.openSession(ctx, b); err != nil {
			return err
		}
		session := l.currentSession()

		for count := 0; o.maxExecutions() < 0 || count < o.maxExecutions(); count++ {
			err := b.Time("execute_code", map[string]any{"code": code}, func() error {
				out, err := session.Execute(ctx, code)
				if err != nil {
					return err
				}
				b.logger.Debug().Str("output", out).Msg("Code executed")
				return nil
			})
			if err != nil {
				return err
			}
			b.Succeed()

			if err := b.Wait(ctx, "execution_idle", o.ExecutionIdleTime.GetDuration(DefaultExecutionIdleTime)); err != nil {
				return err
			}
		}

		if err := l.closeSession(ctx, b, "delete_session"); err != nil {
			return err
		}
	}
}
