package business

import (
	"context"
	"math/rand/v2"
	"strings"
)

// queryRunner issues one TAP query per iteration, chosen at random from the
// configured templates.
type queryRunner struct {
	client QueryClient
}

func newQueryRunner(p Params) (*queryRunner, error) {
	client, err := p.query()
	if err != nil {
		return nil, err
	}
	return &queryRunner{client: client}, nil
}

func (q *queryRunner) run(ctx context.Context, b *Business) error {
	o := b.options
	queries := o.queries()

	if err := b.Time("authenticate", nil, func() error { return q.client.Authenticate(ctx) }); err != nil {
		return err
	}

	for {
		query := renderQuery(queries[rand.IntN(len(queries))], o.QueryParams)

		err := b.Time("execute_query", map[string]any{"query": query}, func() error {
			rows, err := q.client.Query(ctx, query)
			if err != nil {
				return err
			}
			b.logger.Debug().Int("rows", rows).Msg("Query finished")
			return nil
		})
		if err != nil {
			return err
		}
		b.Succeed()

		if err := b.Wait(ctx, "idle", o.QueryInterval.GetDuration(DefaultQueryInterval)); err != nil {
			return err
		}
	}
}

func (q *queryRunner) cleanup(context.Context, *Business) error {
	return nil
}

// renderQuery substitutes {{name}} placeholders. Unknown names are left as is.
func renderQuery(template string, params map[string]string) string {
	if len(params) == 0 {
		return template
	}
	pairs := make([]string, 0, 2*len(params))
	for name, value := range params {
		pairs = append(pairs, "{{"+name+"}}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
