package apps

import "context"

// StaticRegistry serves a fixed app list.
type StaticRegistry []AppInstance

func NewStaticRegistry(list ...AppInstance) StaticRegistry {
	out := make(StaticRegistry, 0, len(list))
	for _, app := range list {
		out = append(out, normalize(app))
	}
	return out
}

func (s StaticRegistry) List(context.Context) ([]AppInstance, error) {
	out := make([]AppInstance, len(s))
	copy(out, s)
	return out, nil
}
