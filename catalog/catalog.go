// Package catalog loads and merges the YAML tool descriptors that decide
// which MCP tools are registered and how they are annotated.
package catalog

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultTimeout = 30

//go:embed tools/*.yaml
var toolsFS embed.FS

type CatalogError struct {
	Message string
}

func (e *CatalogError) Error() string {
	return e.Message
}

// Tool describes one MCP tool. Timeout is in seconds.
type Tool struct {
	Name        string
	Title       string
	Description string
	Timeout     int
	ReadOnly    bool
	Destructive bool
	Idempotent  bool
	Deny        bool
	Reason      string
}

// Catalog maps tool names to their descriptors.
type Catalog map[string]*Tool

// Enabled returns the tools that are not denied, sorted by name.
func (c Catalog) Enabled() []*Tool {
	tools := make([]*Tool, 0, len(c))
	for _, t := range c {
		if !t.Deny {
			tools = append(tools, t)
		}
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// Lookup returns the descriptor for name, or nil when it is unknown or denied.
func (c Catalog) Lookup(name string) *Tool {
	t, ok := c[name]
	if !ok || t.Deny {
		return nil
	}
	return t
}

type toolFile struct {
	Name        string `yaml:"name"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Timeout     *int   `yaml:"timeout"`
	ReadOnly    bool   `yaml:"read_only"`
	Destructive bool   `yaml:"destructive"`
	Idempotent  bool   `yaml:"idempotent"`
	Deny        bool   `yaml:"deny"`
	Reason      string `yaml:"reason"`
}

func LoadEmbedded() (Catalog, error) {
	return loadFromFS(toolsFS, "tools")
}

// LoadDir loads descriptors from dir (recursive). Skips _-prefixed and non-YAML files.
func LoadDir(dir string) (Catalog, error) {
	c, err := loadFromFS(os.DirFS(dir), ".")
	if err != nil {
		return nil, fmt.Errorf("walk catalog directory %s: %w", dir, err)
	}
	return c, nil
}

// Load returns the embedded catalog with dir overlaid on top. An empty dir
// yields the embedded catalog unchanged.
func Load(dir string) (Catalog, error) {
	base, err := LoadEmbedded()
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return base, nil
	}
	overlay, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	return Merge(base, overlay), nil
}

func loadFromFS(fsys fs.FS, root string) (Catalog, error) {
	c := make(Catalog)

	err := fs.WalkDir(fsys, root, func(filePath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path.Ext(filePath) != ".yaml" {
			return nil
		}
		if strings.HasPrefix(path.Base(filePath), "_") {
			return nil
		}

		b, err := fs.ReadFile(fsys, filePath)
		if err != nil {
			return fmt.Errorf("read tool descriptor %s: %w", filePath, err)
		}
		t, err := parseTool(b, filePath)
		if err != nil {
			return err
		}
		c[t.Name] = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func parseTool(b []byte, filePath string) (*Tool, error) {
	var f toolFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, &CatalogError{Message: fmt.Sprintf("invalid YAML in %s: %v", filePath, err)}
	}
	if f.Name == "" {
		return nil, &CatalogError{Message: fmt.Sprintf("tool descriptor %s missing required 'name' field", filePath)}
	}

	timeout := defaultTimeout
	if f.Timeout != nil {
		if *f.Timeout <= 0 {
			return nil, &CatalogError{Message: fmt.Sprintf("tool descriptor %s: 'timeout' must be positive", filePath)}
		}
		timeout = *f.Timeout
	}
	if f.ReadOnly && f.Destructive {
		return nil, &CatalogError{Message: fmt.Sprintf("tool descriptor %s: a read_only tool cannot be destructive", filePath)}
	}

	return &Tool{
		Name:        f.Name,
		Title:       f.Title,
		Description: strings.TrimSpace(f.Description),
		Timeout:     timeout,
		ReadOnly:    f.ReadOnly,
		Destructive: f.Destructive,
		Idempotent:  f.Idempotent,
		Deny:        f.Deny,
		Reason:      f.Reason,
	}, nil
}

// Merge combines base and overlay; overlay wins on conflict. Does not mutate inputs.
func Merge(base, overlay Catalog) Catalog {
	merged := make(Catalog, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}
