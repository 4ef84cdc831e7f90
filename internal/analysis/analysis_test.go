package analysis

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPythonImports(t *testing.T) {
	src := []byte(`import os
import sys, json
from collections import defaultdict
import numpy as np

def run():
    pass
`)
	got := Imports("main.py", src)
	want := []ImportEdge{
		{Source: "main.py", Module: "os", Line: 1},
		{Source: "main.py", Module: "sys", Line: 2},
		{Source: "main.py", Module: "json", Line: 2},
		{Source: "main.py", Module: "collections", Line: 3},
		{Source: "main.py", Module: "numpy", Line: 4},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Imports mismatch (-want +got):\n%s", diff)
	}
}

func TestScriptImports(t *testing.T) {
	src := []byte(`import React from 'react';
import { helper } from './utils';
const fs = require('fs');
export { thing } from './thing';
`)
	got := Imports("app.jsx", src)
	want := []ImportEdge{
		{Source: "app.jsx", Module: "react", Line: 1},
		{Source: "app.jsx", Module: "./utils", Line: 2},
		{Source: "app.jsx", Module: "fs", Line: 3},
		{Source: "app.jsx", Module: "./thing", Line: 4},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Imports mismatch (-want +got):\n%s", diff)
	}
}

func TestImportsUnknownLanguage(t *testing.T) {
	if got := Imports("notes.txt", []byte("import nothing\n")); got != nil {
		t.Errorf("Imports = %v, want nil for unknown extensions", got)
	}
}

func TestEntryPoints(t *testing.T) {
	cases := []struct {
		name string
		path string
		src  string
		want []string
	}{
		{
			name: "python main guard and function",
			path: "main.py",
			src:  "def main():\n    pass\n\nif __name__ == \"__main__\":\n    main()\n",
			want: []string{"__main__ guard", "main()"},
		},
		{
			name: "react mount",
			path: "index.jsx",
			src:  "import { createRoot } from 'react-dom/client';\ncreateRoot(document.getElementById('root')).render(app);\n",
			want: []string{"createRoot"},
		},
		{
			name: "library file",
			path: "utils.py",
			src:  "def helper():\n    return 1\n",
			want: nil,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := EntryPoints(tc.path, []byte(tc.src))
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("EntryPoints mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPatterns(t *testing.T) {
	src := []byte(`class DataProcessor:
    def __init__(self):
        self.cache = {}

    def process(self, key):
        if key in self.cache:
            return self.cache[key]
        try:
            value = self.compute(key)
        except ValueError:
            return None
        self.cache[key] = value
        return value
`)
	got := Patterns("processor.py", src)
	want := []string{"error_handling", "caching"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Patterns mismatch (-want +got):\n%s", diff)
	}
}

func TestPatternsRoutes(t *testing.T) {
	src := []byte("@app.route(\"/items\")\ndef list_items():\n    return items\n")
	got := Patterns("api.py", src)
	want := []string{"rest_routes"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Patterns mismatch (-want +got):\n%s", diff)
	}
}
