package common

import (
	"errors"
	"strings"
	"sync"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// GuardAction rejects the call when either the whole module or the specific
// "module.action" switch is paused.
func GuardAction(p PauseView, module, action string) error {
	if err := Guard(p, module); err != nil {
		return err
	}
	if action == "" {
		return nil
	}
	return Guard(p, module+"."+action)
}

// Pauses is a concurrency-safe PauseView backed by an in-memory set.
type Pauses struct {
	mu     sync.RWMutex
	paused map[string]bool
}

// NewPauses seeds the switch set with the provided keys.
func NewPauses(keys ...string) *Pauses {
	p := &Pauses{paused: make(map[string]bool)}
	for _, key := range keys {
		p.Set(key, true)
	}
	return p
}

func (p *Pauses) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused[normalizeKey(module)]
}

// Set toggles the pause switch for the given key.
func (p *Pauses) Set(key string, paused bool) {
	if p == nil {
		return
	}
	normalized := normalizeKey(key)
	if normalized == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if paused {
		p.paused[normalized] = true
		return
	}
	delete(p.paused, normalized)
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
