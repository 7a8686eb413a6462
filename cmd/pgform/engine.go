package main

import (
	"fmt"

	"github.com/matthewbaird/pgform/internal/catalog"
	"github.com/matthewbaird/pgform/internal/config"
	"github.com/matthewbaird/pgform/internal/control"
	"github.com/matthewbaird/pgform/internal/model"
	"github.com/matthewbaird/pgform/internal/reference"
	"github.com/matthewbaird/pgform/internal/schema"
)

// engine is the node registry shared by the commands.
type engine struct {
	defs    *model.Definitions
	reg     *control.Registry
	catalog *reference.Catalog
}

// newEngine installs the built-in nodes and catalogs, then the ones found
// in the configured directories.
func newEngine(cfg *config.Config) (*engine, error) {
	l, err := schema.NewLoader()
	if err != nil {
		return nil, err
	}
	defs := model.NewDefinitions(schema.NewPredicates())
	reg := control.NewRegistry(nil, defs.Predicates())
	if err := catalog.Install(l, defs, reg); err != nil {
		return nil, err
	}
	if cfg.SchemaDir != "" {
		nodes, err := l.LoadDir(cfg.SchemaDir)
		if err != nil {
			return nil, err
		}
		for _, n := range nodes {
			if _, err := defs.Add(n); err != nil {
				return nil, fmt.Errorf("%s: %w", n.Name, err)
			}
		}
	}

	ref, err := reference.Builtin()
	if err != nil {
		return nil, err
	}
	if cfg.CatalogDir != "" {
		extra, err := reference.LoadDir(cfg.CatalogDir)
		if err != nil {
			return nil, err
		}
		ref.Merge(extra)
	}
	return &engine{defs: defs, reg: reg, catalog: ref}, nil
}
