// Package registry tracks the backend services the gateway can proxy to.
package registry

import (
	"errors"
	"time"
)

var (
	ErrServiceNotFound = errors.New("registry: service not found")
	ErrServiceExists   = errors.New("registry: service already registered")
	ErrInvalidService  = errors.New("registry: invalid service")
)

// Service is one proxyable backend. Name is the first path segment of
// gateway requests; BaseURL is where they are forwarded.
type Service struct {
	Name      string    `json:"name"`
	BaseURL   string    `json:"baseUrl"`
	Healthy   bool      `json:"healthy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
