package registry

import "context"

// Store persists backend service registrations.
type Store interface {
	Create(ctx context.Context, s *Service) error
	Get(ctx context.Context, name string) (*Service, error)
	Update(ctx context.Context, s *Service) error
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]*Service, error)
}
