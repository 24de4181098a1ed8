// Copyright (c) 2026 Timekeep Organization
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"fmt"
	"sync"

	"github.com/timekeep-io/timekeep/common/log"
	"github.com/timekeep-io/timekeep/common/log/tag"
	"github.com/timekeep-io/timekeep/timer"
)

// Registry tracks the timer service of every deployed timed object.
type Registry struct {
	logger log.Logger

	mu       sync.RWMutex
	services map[string]*TimerService
}

func NewRegistry(logger log.Logger) *Registry {
	return &Registry{
		logger:   logger.WithTags(tag.Service("timer-registry")),
		services: map[string]*TimerService{},
	}
}

func (r *Registry) Register(svc *TimerService) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := svc.TimedObjectID()
	if _, ok := r.services[id]; ok {
		return fmt.Errorf("timer service already registered for %s", id)
	}
	r.services[id] = svc
	r.logger.Info("timer service registered", tag.TimedObjectID(id))
	return nil
}

func (r *Registry) Get(timedObjectID string) (*TimerService, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[timedObjectID]
	return svc, ok
}

// Unregister closes and removes the service of an undeployed timed object.
// Persistent timers keep their rows and resume on the next deployment.
func (r *Registry) Unregister(timedObjectID string) {
	r.mu.Lock()
	svc, ok := r.services[timedObjectID]
	delete(r.services, timedObjectID)
	r.mu.Unlock()
	if !ok {
		return
	}
	svc.Suspend()
	svc.Close()
	r.logger.Info("timer service unregistered", tag.TimedObjectID(timedObjectID))
}

// GetAllActiveTimers returns the non-terminal timers of every registered
// service, keyed by timed object.
func (r *Registry) GetAllActiveTimers() map[string][]*timer.Timer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]*timer.Timer, len(r.services))
	for id, svc := range r.services {
		timers, err := svc.GetTimers(CallContext{})
		if err != nil {
			continue
		}
		out[id] = timers
	}
	return out
}

// Close shuts down every registered service.
func (r *Registry) Close() {
	r.mu.Lock()
	services := r.services
	r.services = map[string]*TimerService{}
	r.mu.Unlock()
	for _, svc := range services {
		svc.Close()
	}
}
