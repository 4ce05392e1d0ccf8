package property

import "context"

// Reader abstracts repository operations for the service.
type Reader interface {
	GetByID(ctx context.Context, id string) (Property, error)
}

// Service exposes listing lookups with the platform-default owner applied.
type Service struct {
	repo         Reader
	defaultOwner Contact
}

// NewService builds a Service. defaultOwner receives notifications for
// listings without an individual owner contact.
func NewService(repo Reader, defaultOwner Contact) *Service {
	return &Service{repo: repo, defaultOwner: defaultOwner}
}

// GetByID returns the property for the given identifier.
func (s *Service) GetByID(ctx context.Context, id string) (Property, error) {
	return s.repo.GetByID(ctx, id)
}

// OwnerContact returns the listing's owner contact, or the platform default
// when the listing has no reachable owner.
func (s *Service) OwnerContact(p Property) Contact {
	if p.Owner != nil && (p.Owner.Email != "" || p.Owner.TelegramChatID != 0) {
		return *p.Owner
	}
	return s.defaultOwner
}
