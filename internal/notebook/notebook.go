// Package notebook loads the notebooks executed by NotebookRunner monkeys.
package notebook

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// Cell is one code cell of a notebook.
type Cell struct {
	Index  int    `json:"index"`
	ID     string `json:"id,omitempty"`
	Source string `json:"source"`
}

// Notebook is a parsed notebook reduced to its code cells.
type Notebook struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	Cells []Cell `json:"cells"`
}

// Repository reads .ipynb files from a directory tree.
type Repository struct {
	fsys fs.FS
}

// NewRepository returns a repository rooted at dir.
func NewRepository(dir string) *Repository {
	return &Repository{fsys: os.DirFS(dir)}
}

// NewRepositoryFS returns a repository over an arbitrary filesystem.
func NewRepositoryFS(fsys fs.FS) *Repository {
	return &Repository{fsys: fsys}
}

// Notebooks returns every notebook in the repository sorted by path.
// Checkpoint directories are skipped.
func (r *Repository) Notebooks() ([]Notebook, error) {
	var paths []string
	err := fs.WalkDir(r.fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != "." && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if path.Ext(p) == ".ipynb" {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing notebooks: %w", err)
	}
	sort.Strings(paths)

	notebooks := make([]Notebook, 0, len(paths))
	for _, p := range paths {
		data, err := fs.ReadFile(r.fsys, p)
		if err != nil {
			return nil, fmt.Errorf("reading notebook %s: %w", p, err)
		}
		nb, err := Parse(p, data)
		if err != nil {
			return nil, err
		}
		notebooks = append(notebooks, nb)
	}
	return notebooks, nil
}

// Parse extracts the code cells of an nbformat 4 document. Markdown and raw
// cells are dropped, as are code cells with only whitespace.
func Parse(p string, data []byte) (Notebook, error) {
	if !gjson.ValidBytes(data) {
		return Notebook{}, fmt.Errorf("notebook %s is not valid JSON", p)
	}

	doc := gjson.ParseBytes(data)
	cells := doc.Get("cells")
	if !cells.IsArray() {
		return Notebook{}, fmt.Errorf("notebook %s has no cells array", p)
	}

	nb := Notebook{
		Name: strings.TrimSuffix(path.Base(p), ".ipynb"),
		Path: p,
	}
	for i, cell := range cells.Array() {
		if cell.Get("cell_type").String() != "code" {
			continue
		}
		source := joinSource(cell.Get("source"))
		if strings.TrimSpace(source) == "" {
			continue
		}
		nb.Cells = append(nb.Cells, Cell{
			Index:  i,
			ID:     cell.Get("id").String(),
			Source: source,
		})
	}
	return nb, nil
}

// Exclude drops notebooks whose name or path is listed in names.
func Exclude(notebooks []Notebook, names []string) []Notebook {
	if len(names) == 0 {
		return notebooks
	}
	skip := make(map[string]bool, len(names))
	for _, n := range names {
		skip[n] = true
	}

	kept := make([]Notebook, 0, len(notebooks))
	for _, nb := range notebooks {
		if skip[nb.Name] || skip[nb.Path] {
			continue
		}
		kept = append(kept, nb)
	}
	return kept
}

// nbformat stores source either as a string or a list of lines.
func joinSource(source gjson.Result) string {
	if !source.IsArray() {
		return source.String()
	}
	var sb strings.Builder
	for _, line := range source.Array() {
		sb.WriteString(line.String())
	}
	return sb.String()
}
