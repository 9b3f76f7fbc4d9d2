package business

import (
	"context"
	"errors"
	"sync"
)

// lab tracks the platform resources a Jupyter business holds so cleanup
// knows what to release.
type lab struct {
	client JupyterClient

	mu      sync.Mutex
	running bool
	session KernelSession
}

func (l *lab) login(ctx context.Context, b *Business) error {
	return b.Time("hub_login", nil, func() error { return l.client.Login(ctx) })
}

// spawn starts the lab. It is marked running before the request so a
// half-finished spawn is still deleted on cleanup.
func (l *lab) spawn(ctx context.Context, b *Business) error {
	l.mu.Lock()
	l.running = true
	l.mu.Unlock()
	return b.Time("create_lab", nil, func() error { return l.client.SpawnLab(ctx) })
}

func (l *lab) delete(ctx context.Context, b *Business, event string) error {
	err := b.Time(event, nil, func() error { return l.client.DeleteLab(ctx) })
	if err == nil {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}
	return err
}

func (l *lab) openSession(ctx context.Context, b *Business) error {
	annotations := map[string]any{"user": b.user.Username}
	return b.Time("create_session", annotations, func() error {
		session, err := l.client.OpenSession(ctx, "mobu-"+b.user.Username)
		if err != nil {
			return err
		}
		l.mu.Lock()
		l.session = session
		l.mu.Unlock()
		return nil
	})
}

func (l *lab) closeSession(ctx context.Context, b *Business, event string) error {
	l.mu.Lock()
	session := l.session
	l.mu.Unlock()
	if session == nil {
		return nil
	}

	err := b.Time(event, nil, func() error { return session.Close(ctx) })
	if err == nil {
		l.mu.Lock()
		l.session = nil
		l.mu.Unlock()
	}
	return err
}

func (l *lab) currentSession() KernelSession {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session
}

// cleanup closes the session and deletes the lab, whichever are held.
func (l *lab) cleanup(ctx context.Context, b *Business) error {
	var errs []error
	if err := l.closeSession(ctx, b, "delete_session_on_close"); err != nil {
		errs = append(errs, err)
	}

	l.mu.Lock()
	running := l.running
	l.mu.Unlock()
	if running {
		if err := l.delete(ctx, b, "delete_lab_on_close"); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
