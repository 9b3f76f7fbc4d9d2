// Package status delivers the flock status digest and monkey failure
// alerts to a Slack-compatible incoming webhook.
package status

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/wesleyorama2/mobu/internal/flock"
	mobuhttp "github.com/wesleyorama2/mobu/internal/http"
	"github.com/wesleyorama2/mobu/internal/monkey"
)

// DefaultSchedule posts the digest hourly.
const DefaultSchedule = "@every 1h"

const alertTimeout = 10 * time.Second

// Source provides the flock summaries for the digest.
type Source interface {
	SummarizeFlocks() []flock.Summary
}

// Config configures the reporter.
type Config struct {
	// Webhook is the incoming-webhook URL. When empty, messages are logged.
	Webhook string

	// Schedule is a cron spec (five fields or a descriptor such as
	// "@every 30m"). Defaults to DefaultSchedule.
	Schedule string

	Timeout time.Duration
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a digest schedule.
func ParseSchedule(spec string) (cron.Schedule, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	return parser.Parse(spec)
}

// Reporter renders and sends status messages.
type Reporter struct {
	webhook  string
	client   *mobuhttp.Client
	schedule cron.Schedule
	logger   zerolog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// New creates a reporter. The schedule is validated here; nothing is sent
// until Start.
func New(cfg Config, logger zerolog.Logger) (*Reporter, error) {
	schedule, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid status schedule %q: %w", cfg.Schedule, err)
	}
	return &Reporter{
		webhook:  cfg.Webhook,
		client:   mobuhttp.NewClient(mobuhttp.WithTimeout(cfg.Timeout)),
		schedule: schedule,
		logger:   logger.With().Str("component", "status").Logger(),
	}, nil
}

// Start posts the digest of source on the configured schedule.
func (r *Reporter) Start(source Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return
	}

	r.cron = cron.New()
	r.cron.Schedule(r.schedule, cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
		defer cancel()
		if err := r.Post(ctx, source); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to post status digest")
		}
	}))
	r.cron.Start()
	r.logger.Info().Time("next", r.schedule.Next(time.Now())).Msg("Status reporter started")
}

// Stop halts the schedule and waits for a running post to finish.
func (r *Reporter) Stop(ctx context.Context) error {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Digest renders one status line per flock.
func Digest(summaries []flock.Summary) string {
	if len(summaries) == 0 {
		return "No flocks running"
	}
	lines := make([]string, 0, len(summaries))
	for _, s := range summaries {
		lines = append(lines, s.StatusLine())
	}
	return strings.Join(lines, "\n")
}

// Post sends the current digest.
func (r *Reporter) Post(ctx context.Context, source Source) error {
	return r.send(ctx, Digest(source.SummarizeFlocks()))
}

// Alert reports a failed monkey. It has the monkey.FailureHook signature.
func (r *Reporter) Alert(m *monkey.Monkey, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
	defer cancel()

	text := fmt.Sprintf("*Monkey %s failed* (%s): %v", m.Name(), m.Business().Kind(), err)
	if sendErr := r.send(ctx, text); sendErr != nil {
		r.logger.Warn().Err(sendErr).Str("monkey", m.Name()).Msg("Failed to send alert")
	}
}

type slackMessage struct {
	Text string `json:"text"`
}

func (r *Reporter) send(ctx context.Context, text string) error {
	if r.webhook == "" {
		r.logger.Info().Msg(text)
		return nil
	}

	resp, err := r.client.Do(ctx, mobuhttp.NewRequest(http.MethodPost, r.webhook).WithBody(slackMessage{Text: text}))
	if err != nil {
		return err
	}
	return resp.Err()
}
