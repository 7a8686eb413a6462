// Package reference serves fixed option lists (data types, encodings,
// roles and the like) read from YAML catalogs.
package reference

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/matthewbaird/pgform/internal/options"
	"github.com/matthewbaird/pgform/internal/schema"
)

//go:embed catalogs/*.yaml
var builtinFS embed.FS

// Directory is one catalog of choices.
type Directory struct {
	Name  string `yaml:"name"`
	Items []Item `yaml:"items"`
}

// Item is one entry of a catalog.
type Item struct {
	Code     string `yaml:"code"`
	Name     string `yaml:"name"`
	Order    int    `yaml:"order,omitempty"`
	Disabled bool   `yaml:"disabled,omitempty"`
	Image    string `yaml:"image,omitempty"`
}

// Options returns the items as an option list, ordered by Order. Items
// without an order keep their file position after the ordered ones.
func (d Directory) Options() []schema.Option {
	items := make([]Item, len(d.Items))
	copy(items, d.Items)
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].Order, items[j].Order
		if a == 0 || b == 0 {
			return a != 0 && b == 0
		}
		return a < b
	})
	out := make([]schema.Option, len(items))
	for i, it := range items {
		label := it.Name
		if label == "" {
			label = it.Code
		}
		out[i] = schema.Option{Label: label, Value: it.Code, Disabled: it.Disabled, Image: it.Image}
	}
	return out
}

// Catalog holds directories by name. It implements options.Provider: the
// last segment of the URL names the directory.
type Catalog struct {
	mu   sync.RWMutex
	dirs map[string]Directory
}

// Builtin returns the catalogs shipped with the binary.
func Builtin() (*Catalog, error) {
	return Load(builtinFS, "catalogs")
}

// LoadDir reads every catalog in a directory on disk.
func LoadDir(dir string) (*Catalog, error) {
	return Load(os.DirFS(filepath.Clean(dir)), ".")
}

// Load reads every .yaml and .yml file in dir of fsys. A directory without
// a name is named after its file.
func Load(fsys fs.FS, dir string) (*Catalog, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("reference: read %s: %w", dir, err)
	}
	c := &Catalog{dirs: make(map[string]Directory)}
	for _, e := range entries {
		ext := path.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reference: read %s: %w", e.Name(), err)
		}
		var d Directory
		if err := yaml.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("reference: %s: %w", e.Name(), err)
		}
		if d.Name == "" {
			d.Name = strings.TrimSuffix(e.Name(), ext)
		}
		c.dirs[d.Name] = d
	}
	return c, nil
}

// Merge adds the directories of other, replacing those of the same name.
func (c *Catalog) Merge(other *Catalog) {
	other.mu.RLock()
	defer other.mu.RUnlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, d := range other.dirs {
		c.dirs[name] = d
	}
}

// Names returns the directory names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.dirs))
	for name := range c.dirs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the directory registered under name.
func (c *Catalog) Lookup(name string) (Directory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.dirs[name]
	return d, ok
}

// Fetch returns the options of the directory named by the last segment of
// url. Parameters are ignored: catalogs do not depend on the scope.
func (c *Catalog) Fetch(_ context.Context, url string, _ map[string]string) ([]schema.Option, error) {
	name := path.Base(strings.TrimSuffix(url, "/"))
	d, ok := c.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: catalog %q", options.ErrNotFound, name)
	}
	return d.Options(), nil
}
