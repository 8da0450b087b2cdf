// SPDX-License-Identifier: MPL-2.0

package venue

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/invowk/cougar/pkg/execution"
	"github.com/invowk/cougar/pkg/operation"
)

// InProcessNamespace is registered alongside the default namespace so that
// same-process callers can reach a service without going through a transport.
const InProcessNamespace = "_inprocess"

type (
	// TimeoutSource supplies per-operation execution timeouts by
	// configuration key ("ns:Service/v1.0/op" or "Service/v1.0/op").
	TimeoutSource interface {
		Timeout(configKey string) (time.Duration, bool)
	}

	// TimeoutMap is a TimeoutSource backed by a map. Keys match
	// case-insensitively.
	TimeoutMap map[string]time.Duration

	// ServiceRegistration records one RegisterService call.
	ServiceRegistration struct {
		Namespace string
		Service   operation.Service
	}

	// ServiceVenue registers whole services under a namespace.
	ServiceVenue struct {
		*Base

		regMu    sync.RWMutex
		services []ServiceRegistration
	}
)

// Timeout looks up key case-insensitively.
func (m TimeoutMap) Timeout(key string) (time.Duration, bool) {
	if d, ok := m[key]; ok {
		return d, true
	}
	for k, d := range m {
		if strings.EqualFold(k, key) {
			return d, true
		}
	}
	return 0, false
}

// NewServiceVenue returns an empty service venue.
func NewServiceVenue(opts ...Option) *ServiceVenue {
	return newServiceVenue(buildOptions(opts))
}

func newServiceVenue(o options) *ServiceVenue {
	sv := &ServiceVenue{Base: newBase(o)}
	sv.self = sv
	return sv
}

// RegisterService registers every operation svc declares under namespace,
// using resolver to find each executable. The default namespace also
// registers the operations under InProcessNamespace. Registration is
// all-or-nothing: on error no operation of svc is added.
func (sv *ServiceVenue) RegisterService(namespace string, svc operation.Service, resolver execution.ExecutableResolver, opts ...RegisterOption) error {
	if err := svc.Validate(); err != nil {
		return err
	}

	namespaces := []string{namespace}
	if namespace == operation.DefaultNamespace {
		namespaces = append(namespaces, InProcessNamespace)
	}

	var entries []pending
	for _, def := range svc.Operations {
		exec := resolver.ResolveExecutable(def.Key.WithNamespace(namespace), sv.self)
		if exec == nil {
			return &UnresolvableExecutableError{Key: def.Key.WithNamespace(namespace)}
		}
		for _, ns := range namespaces {
			key := def.Key.WithNamespace(ns)
			p, err := sv.prepare(ns, def, exec, nil, sv.TimeoutFor(key), opts)
			if err != nil {
				return err
			}
			entries = append(entries, p)
		}
	}

	if err := sv.insert(entries); err != nil {
		return err
	}

	sv.regMu.Lock()
	sv.services = append(sv.services, ServiceRegistration{Namespace: namespace, Service: svc})
	sv.regMu.Unlock()

	sv.opts.logger.Info("registered service", "service", svc, "namespace", namespaceLabel(namespace), "operations", len(svc.Operations))
	return nil
}

// TimeoutFor resolves the execution timeout of key: the namespace-qualified
// configuration key first, then the unqualified one, then the venue default.
func (sv *ServiceVenue) TimeoutFor(key operation.Key) time.Duration {
	if src := sv.opts.timeouts; src != nil {
		if d, ok := src.Timeout(key.ConfigKey(true)); ok {
			return d
		}
		if d, ok := src.Timeout(key.ConfigKey(false)); ok {
			return d
		}
	}
	return sv.opts.defaultTimeout
}

// Services returns every service registration in registration order.
func (sv *ServiceVenue) Services() []ServiceRegistration {
	sv.regMu.RLock()
	defer sv.regMu.RUnlock()
	return slices.Clone(sv.services)
}

func namespaceLabel(ns string) string {
	if ns == operation.DefaultNamespace {
		return "default"
	}
	return ns
}
