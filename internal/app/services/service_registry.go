package services

import "fmt"

// ServiceRegistry facilitates runtime service discovery after the
// registration phase completes, letting one managed service look up
// another by name instead of holding a direct reference.
type ServiceRegistry struct {
	services map[string]ManagedService
}

func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{
		services: make(map[string]ManagedService),
	}
}

func (r *ServiceRegistry) Register(name string, service ManagedService) {
	r.services[name] = service
}

func (r *ServiceRegistry) Get(name string) (ManagedService, error) {
	service, exists := r.services[name]
	if !exists {
		return nil, fmt.Errorf("service %s not found", name)
	}
	return service, nil
}
