// Package identity resolves staff ids to display names. It only reads.
package identity

import (
	"strings"
	"sync"
)

type Resolver interface {
	DisplayName(id string) string
}

// Directory: статический справочник сотрудников из STAFF_DIRECTORY ("id:Имя,id2:Имя2").
// Неизвестные id отображаются как есть.
type Directory struct {
	mu    sync.RWMutex
	names map[string]string
}

func NewDirectory(spec string) *Directory {
	d := &Directory{names: map[string]string{"system": "System"}}
	for _, pair := range strings.Split(spec, ",") {
		id, name, ok := strings.Cut(pair, ":")
		id, name = strings.TrimSpace(id), strings.TrimSpace(name)
		if !ok || id == "" || name == "" {
			continue
		}
		d.names[id] = name
	}
	return d
}

func (d *Directory) DisplayName(id string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if n, ok := d.names[id]; ok {
		return n
	}
	return id
}

// Set adds or replaces one entry.
func (d *Directory) Set(id, name string) {
	d.mu.Lock()
	d.names[id] = name
	d.mu.Unlock()
}
