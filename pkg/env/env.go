package env

import "os"

// Get returns the value of the given environment variable or a fallback.
func Get(key, fallback string) string {
	return First(fallback, key)
}

// First returns the first non-empty variable among keys, in order. It lets a
// project-prefixed variable override a platform-provided one.
func First(fallback string, keys ...string) string {
	for _, key := range keys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	return fallback
}
