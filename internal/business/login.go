package business

import (
	"context"
	"math/rand/v2"
	"time"
)

// loginLoop spawns a lab, holds it, deletes it and idles, forever. With a
// non-zero jitter every wait is stretched by a random amount so that many
// monkeys drift apart instead of hitting the hub in lockstep.
type loginLoop struct {
	lab
	jitter time.Duration
}

func newLoginLoop(p Params, jitter time.Duration) (*loginLoop, error) {
	client, err := p.jupyter()
	if err != nil {
		return nil, err
	}
	return &loginLoop{lab: lab{client: client}, jitter: jitter}, nil
}

func (l *loginLoop) run(ctx context.Context, b *Business) error {
	o := b.options

	if l.jitter > 0 {
		if err := b.Wait(ctx, "pre_login_delay", l.randomDelay()); err != nil {
			return err
		}
	}

	if err := l.login(ctx, b); err != nil {
		return err
	}

	for {
		if err := l.spawn(ctx, b); err != nil {
			return err
		}
		if err := b.Wait(ctx, "lab_wait", o.LoginWait.GetDuration(DefaultLoginWait)+l.randomDelay()); err != nil {
			return err
		}
		if err := l.delete(ctx, b, "delete_lab"); err != nil {
			return err
		}
		b.Succeed()

		if err := b.Wait(ctx, "idle", o.IdleTime.GetDuration(DefaultIdleTime)+l.randomDelay()); err != nil {
			return err
		}
	}
}

func (l *loginLoop) randomDelay() time.Duration {
	if l.jitter <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(l.jitter) + 1))
}
