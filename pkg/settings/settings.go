// Package settings provides read-only key/value access to persisted
// provider settings.
//
// The provider configuration resolver consumes a Store and nothing else, so
// resolution stays testable with an in-memory Map. The daemon composes a
// YAML-backed File with an Env overlay so credentials can come from either
// place.
package settings

import (
	"os"
	"strings"
)

// Store is read-only key/value access. A missing key reads as the empty
// string; callers treat blank values as unset.
type Store interface {
	Get(key string) string
}

// Map is an in-memory Store.
type Map map[string]string

// Get implements Store.
func (m Map) Get(key string) string {
	return m[key]
}

// Env reads settings from environment variables. Keys are upper-cased, so
// "openai_api_key" reads OPENAI_API_KEY.
type Env struct{}

// Get implements Store.
func (Env) Get(key string) string {
	return os.Getenv(strings.ToUpper(key))
}

// Overlay combines stores; the first non-blank value wins.
func Overlay(stores ...Store) Store {
	return overlay(stores)
}

type overlay []Store

func (o overlay) Get(key string) string {
	for _, s := range o {
		if v := s.Get(key); v != "" {
			return v
		}
	}
	return ""
}
