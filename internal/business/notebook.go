package business

import (
	"context"
	"errors"

	"github.com/wesleyorama2/mobu/internal/notebook"
)

var errNoRunnableNotebooks = errors.New("no notebooks left to run after exclusions")

// notebookRunner executes every code cell of each notebook in turn, cycling
// through the repository. Each cell is its own phase, linked to the cell
// before it.
type notebookRunner struct {
	lab
	source NotebookSource
}

func newNotebookRunner(p Params) (*notebookRunner, error) {
	client, err := p.jupyter()
	if err != nil {
		return nil, err
	}
	if p.Env.Notebooks == nil {
		return nil, errNoNotebooks
	}
	return &notebookRunner{lab: lab{client: client}, source: p.Env.Notebooks}, nil
}

func (r *notebookRunner) run(ctx context.Context, b *Business) error {
	o := b.options

	var notebooks []notebook.Notebook
	err := b.Time("load_notebooks", nil, func() error {
		all, err := r.source.Notebooks()
		if err != nil {
			return err
		}
		notebooks = notebook.Exclude(all, o.ExcludeNotebooks)
		if len(notebooks) == 0 {
			return errNoRunnableNotebooks
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := r.login(ctx, b); err != nil {
		return err
	}
	if err := r.spawn(ctx, b); err != nil {
		return err
	}
	if err := b.Wait(ctx, "lab_settle", o.SpawnSettleTime.GetDuration(DefaultSpawnSettleTime)); err != nil {
		return err
	}

	executions := 0
	for i := 0; ; i++ {
		if r.currentSession() == nil {
			if err := r.openSession(ctx, b); err != nil {
				return err
			}
		}

		nb := notebooks[i%len(notebooks)]
		b.logger.Info().Str("notebook", nb.Path).Int("cells", len(nb.Cells)).Msg("Running notebook")
		if err := r.runNotebook(ctx, b, nb); err != nil {
			return err
		}
		b.Succeed()

		executions++
		if limit := o.maxExecutions(); limit > 0 && executions >= limit {
			if err := r.closeSession(ctx, b, "delete_session"); err != nil {
				return err
			}
			executions = 0
		}

		if err := b.Wait(ctx, "execution_idle", o.ExecutionIdleTime.GetDuration(DefaultExecutionIdleTime)); err != nil {
			return err
		}
	}
}

func (r *notebookRunner) runNotebook(ctx context.Context, b *Business, nb notebook.Notebook) error {
	session := r.currentSession()
	previous := b.timings.Last()

	for _, cell := range nb.Cells {
		annotations := map[string]any{
			"notebook": nb.Name,
			"cell":     cell.Index,
		}
		if cell.ID != "" {
			annotations["cell_id"] = cell.ID
		}

		err := b.TimeAfter(previous, "execute_cell", annotations, func() error {
			_, err := session.Execute(ctx, cell.Source)
			return err
		})
		if err != nil {
			return err
		}
		previous = b.timings.Last()
	}
	return nil
}
