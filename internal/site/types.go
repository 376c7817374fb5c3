package site

import (
	"errors"
	"time"
)

// Site is a facility subject to inspections.
type Site struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Address        string    `json:"address,omitempty"`
	OwnerID        string    `json:"owner_id,omitempty"`
	OrganizationID string    `json:"organization_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Sentinel errors for site operations.
var (
	ErrSiteNotFound = errors.New("site not found")
	ErrNameRequired = errors.New("site name is required")
)
