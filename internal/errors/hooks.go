package errors

import (
	"sync"
	"sync/atomic"
)

// ErrorHook is called for every error built while hooks are active.
// Hooks must not block; long-running work should be handed off elsewhere.
type ErrorHook func(ee *EnhancedError)

var (
	hooks          []ErrorHook
	hooksMutex     sync.RWMutex
	hasActiveHooks atomic.Bool
)

// AddHook registers a hook that observes every built error.
func AddHook(hook ErrorHook) {
	if hook == nil {
		return
	}
	hooksMutex.Lock()
	defer hooksMutex.Unlock()
	hooks = append(hooks, hook)
	hasActiveHooks.Store(true)
}

// ClearHooks removes all registered hooks. Intended for test teardown.
func ClearHooks() {
	hooksMutex.Lock()
	defer hooksMutex.Unlock()
	hooks = nil
	hasActiveHooks.Store(false)
}

func notifyHooks(ee *EnhancedError) {
	hooksMutex.RLock()
	defer hooksMutex.RUnlock()
	for _, hook := range hooks {
		hook(ee)
	}
}
