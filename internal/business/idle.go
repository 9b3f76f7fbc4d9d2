package business

import "context"

// idle sleeps forever.
type idle struct{}

func (idle) run(ctx context.Context, b *Business) error {
	d := b.options.IdleTime.GetDuration(DefaultIdleTime)
	for {
		if err := b.Wait(ctx, "idle", d); err != nil {
			return err
		}
		b.Succeed()
	}
}

func (idle) cleanup(context.Context, *Business) error {
	return nil
}
