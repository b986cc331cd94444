package configloader

import "sync"

var (
	defaultsMu sync.RWMutex
	defaults   = make(map[string]interface{})
)

// RegisterDefaults registers a default value for key globally.
func RegisterDefaults(k string, v interface{}) {
	defaultsMu.Lock()
	defer defaultsMu.Unlock()
	defaults[k] = v
}

// RegisterSection registers every key of values under prefix, so
// RegisterSection("feed", {"host": ""}) sets "feed.host".
func RegisterSection(prefix string, values map[string]interface{}) {
	defaultsMu.Lock()
	defer defaultsMu.Unlock()
	for k, v := range values {
		if prefix != "" {
			k = prefix + "." + k
		}
		defaults[k] = v
	}
}

// Defaults returns a copy of every registered default.
func Defaults() map[string]interface{} { return getDefaults() }

func getDefaults() map[string]interface{} {
	defaultsMu.RLock()
	defer defaultsMu.RUnlock()

	cp := make(map[string]interface{}, len(defaults))
	for k, v := range defaults {
		cp[k] = v
	}
	return cp
}
