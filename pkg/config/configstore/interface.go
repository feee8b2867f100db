package configstore

import "context"

type ConfigStore interface {
	Load(out any) error
	Save(data any) error
}

// Watcher is implemented by stores that can report changes.
type Watcher interface {
	Watch(ctx context.Context, onChange func()) error
}
