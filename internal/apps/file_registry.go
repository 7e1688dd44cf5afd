package apps

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileRegistry reads apps from a YAML file on every List call, so edits are
// picked up on the next load without a restart.
type FileRegistry struct {
	path string
}

type appsFile struct {
	Apps []AppInstance `yaml:"apps"`
}

func NewFileRegistry(path string) *FileRegistry {
	return &FileRegistry{path: path}
}

var _ Registry = (*FileRegistry)(nil)

func (r *FileRegistry) List(_ context.Context) ([]AppInstance, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("read apps file %s: %w", r.path, err)
	}

	var parsed appsFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decode apps file %s: %w", r.path, err)
	}

	out := make([]AppInstance, 0, len(parsed.Apps))
	seen := make(map[string]struct{}, len(parsed.Apps))
	for i, app := range parsed.Apps {
		app = normalize(app)
		if app.ID == "" {
			return nil, fmt.Errorf("apps file %s: entry %d has no id", r.path, i)
		}
		if _, dup := seen[app.ID]; dup {
			return nil, fmt.Errorf("apps file %s: duplicate app id %q", r.path, app.ID)
		}
		seen[app.ID] = struct{}{}
		out = append(out, app)
	}
	return out, nil
}
