package schema

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	json "github.com/goccy/go-json"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed node.schema.json
var nodeSchemaJSON string

// ErrInvalidDocument is returned when a schema file does not conform to the
// node document schema.
var ErrInvalidDocument = errors.New("schema: invalid node document")

// Loader decodes node documents and checks them against the node document
// JSON schema before decoding them into Nodes.
type Loader struct {
	validator *gojsonschema.Schema
	cue       *cue.Context
}

// NewLoader compiles the node document schema.
func NewLoader() (*Loader, error) {
	sl := gojsonschema.NewSchemaLoader()
	compiled, err := sl.Compile(gojsonschema.NewStringLoader(nodeSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("schema: cannot compile node document schema: %w", err)
	}
	return &Loader{validator: compiled, cue: cuecontext.New()}, nil
}

// Extensions lists the file extensions the loader understands.
var Extensions = []string{".json", ".yaml", ".yml", ".cue"}

// Decode parses one document. The format is chosen from the file name.
func (l *Loader) Decode(name string, data []byte) (*Node, error) {
	var doc any
	switch strings.ToLower(path.Ext(name)) {
	case ".json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("schema: %s: %w", name, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("schema: %s: %w", name, err)
		}
	case ".cue":
		v := l.cue.CompileBytes(data, cue.Filename(name))
		if err := v.Err(); err != nil {
			return nil, fmt.Errorf("schema: %s: %w", name, err)
		}
		if node := v.LookupPath(cue.ParsePath("node")); node.Exists() {
			v = node
		}
		raw, err := v.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("schema: %s: %w", name, err)
		}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("schema: %s: %w", name, err)
		}
	default:
		return nil, fmt.Errorf("schema: %s: unsupported file type", name)
	}
	return l.decodeDocument(name, doc)
}

func (l *Loader) decodeDocument(name string, doc any) (*Node, error) {
	result, err := l.validator.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("schema: %s: cannot validate: %w", name, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("%w: %s: %s", ErrInvalidDocument, name, strings.Join(msgs, "; "))
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("schema: %s: %w", name, err)
	}
	var n Node
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("schema: %s: %w", name, err)
	}
	return &n, nil
}

// LoadFS reads every schema document in dir of fsys, sorted by file name.
func (l *Loader) LoadFS(fsys fs.FS, dir string) ([]*Node, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("schema: read %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !knownExtension(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	nodes := make([]*Node, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("schema: read %s: %w", name, err)
		}
		n, err := l.Decode(name, data)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// LoadDir reads every schema document in a directory on disk.
func (l *Loader) LoadDir(dir string) ([]*Node, error) {
	return l.LoadFS(os.DirFS(filepath.Clean(dir)), ".")
}

func knownExtension(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	for _, e := range Extensions {
		if e == ext {
			return true
		}
	}
	return false
}
