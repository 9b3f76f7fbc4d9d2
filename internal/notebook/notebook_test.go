package notebook

import (
	"testing"
	"testing/fstest"
)

const sampleNotebook = `{
  "nbformat": 4,
  "cells": [
    {"cell_type": "markdown", "source": ["# Title"]},
    {"cell_type": "code", "id": "a1", "source": ["import os\n", "print(os.getcwd())"]},
    {"cell_type": "code", "id": "a2", "source": "   \n"},
    {"cell_type": "code", "id": "a3", "source": "print(2 + 2)"}
  ]
}`

func TestParse(t *testing.T) {
	nb, err := Parse("tutorials/intro.ipynb", []byte(sampleNotebook))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if nb.Name != "intro" {
		t.Errorf("Name = %q, want intro", nb.Name)
	}
	if len(nb.Cells) != 2 {
		t.Fatalf("len(Cells) = %d, want 2", len(nb.Cells))
	}
	if nb.Cells[0].Source != "import os\nprint(os.getcwd())" {
		t.Errorf("Cells[0].Source = %q", nb.Cells[0].Source)
	}
	if nb.Cells[0].Index != 1 || nb.Cells[0].ID != "a1" {
		t.Errorf("Cells[0] = %+v", nb.Cells[0])
	}
	if nb.Cells[1].ID != "a3" {
		t.Errorf("Cells[1].ID = %q, want a3", nb.Cells[1].ID)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "{"},
		{"no cells", `{"nbformat": 4}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse("x.ipynb", []byte(tt.data)); err == nil {
				t.Error("Parse() expected error")
			}
		})
	}
}

func TestRepository_Notebooks(t *testing.T) {
	fsys := fstest.MapFS{
		"b.ipynb":                              {Data: []byte(sampleNotebook)},
		"a.ipynb":                              {Data: []byte(sampleNotebook)},
		"README.md":                            {Data: []byte("docs")},
		"sub/c.ipynb":                          {Data: []byte(sampleNotebook)},
		".ipynb_checkpoints/a-checkpoint.ipynb": {Data: []byte(sampleNotebook)},
	}

	notebooks, err := NewRepositoryFS(fsys).Notebooks()
	if err != nil {
		t.Fatalf("Notebooks() error = %v", err)
	}

	want := []string{"a.ipynb", "b.ipynb", "sub/c.ipynb"}
	if len(notebooks) != len(want) {
		t.Fatalf("got %d notebooks, want %d", len(notebooks), len(want))
	}
	for i, nb := range notebooks {
		if nb.Path != want[i] {
			t.Errorf("notebooks[%d].Path = %q, want %q", i, nb.Path, want[i])
		}
	}
}

func TestExclude(t *testing.T) {
	notebooks := []Notebook{
		{Name: "a", Path: "a.ipynb"},
		{Name: "b", Path: "b.ipynb"},
		{Name: "c", Path: "sub/c.ipynb"},
	}

	kept := Exclude(notebooks, []string{"a", "sub/c.ipynb"})
	if len(kept) != 1 || kept[0].Name != "b" {
		t.Errorf("Exclude() = %+v, want only b", kept)
	}
	if len(Exclude(notebooks, nil)) != 3 {
		t.Error("Exclude(nil) should keep everything")
	}
}
