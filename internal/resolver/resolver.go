// Package resolver maps logical service names to callable base URLs.
// The orchestrator depends on the interface only; production wires the
// static table from config, a service mesh or DNS could replace it.
package resolver

import (
	"fmt"
	"strings"
	"sync"
)

// ServiceResolver resolves a logical service name to a base URL.
type ServiceResolver interface {
	Resolve(service string) (string, error)
}

// NotFoundError reports an unresolvable service name.
type NotFoundError struct {
	Service string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no base URL registered for service %q", e.Service)
}

// Static is a fixed name → base-URL table loaded at startup.
type Static struct {
	mu    sync.RWMutex
	table map[string]string
}

func NewStatic(table map[string]string) *Static {
	normalized := make(map[string]string, len(table))
	for name, baseURL := range table {
		normalized[name] = strings.TrimRight(baseURL, "/")
	}
	return &Static{table: normalized}
}

// Resolve returns the registered base URL for the service.
func (s *Static) Resolve(service string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	baseURL, ok := s.table[service]
	if !ok || baseURL == "" {
		return "", &NotFoundError{Service: service}
	}
	return baseURL, nil
}

// Set adds or replaces one entry. Used by tests and admin tooling.
func (s *Static) Set(service, baseURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table[service] = strings.TrimRight(baseURL, "/")
}

// ParseTable parses "name=url,name2=url2" into a resolver table.
func ParseTable(spec string) map[string]string {
	table := make(map[string]string)
	for _, pair := range strings.Split(spec, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		idx := strings.Index(pair, "=")
		if idx <= 0 || idx == len(pair)-1 {
			continue
		}
		table[strings.TrimSpace(pair[:idx])] = strings.TrimSpace(pair[idx+1:])
	}
	return table
}
