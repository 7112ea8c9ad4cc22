package knowledge

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var schemaJSON string

//go:embed bank/*.json
var bundled embed.FS

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("knowledge.schema.json", schemaJSON)
	})
	return schema, schemaErr
}

// file is the on-disk shape of one bank file. Mode is the default for the
// file's entries.
type file struct {
	Mode    MatchMode `json:"mode,omitempty"`
	Entries []Entry   `json:"entries"`
}

// Default loads the bundled bank.
func Default(opts ...Option) (*Base, error) {
	sub, err := fs.Sub(bundled, "bank")
	if err != nil {
		return nil, err
	}
	return LoadFS(sub, opts...)
}

// Load reads every *.json file in dir (sorted by name).
func Load(dir string, opts ...Option) (*Base, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, err
	}
	return LoadFS(os.DirFS(dir), opts...)
}

// LoadFS reads every *.json file at the root of fsys in name order. Each file
// is validated against the bank schema before decoding.
func LoadFS(fsys fs.FS, opts ...Option) (*Base, error) {
	sch, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("knowledge schema: %w", err)
	}

	dirEntries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range dirEntries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("no knowledge files found")
	}

	var (
		raws    [][]byte
		entries []Entry
	)
	for _, name := range names {
		raw, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, err
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("%s: %w", path.Base(name), err)
		}
		if err := sch.Validate(doc); err != nil {
			return nil, fmt.Errorf("%s: %w", path.Base(name), err)
		}
		var f file
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("%s: %w", path.Base(name), err)
		}
		for _, e := range f.Entries {
			if e.Mode == "" {
				e.Mode = f.Mode
			}
			entries = append(entries, e)
		}
		raws = append(raws, raw)
	}

	opts = append([]Option{withDigest(sha256Hex(concat(raws)))}, opts...)
	return New(entries, opts...)
}
