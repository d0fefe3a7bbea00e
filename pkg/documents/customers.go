package documents

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mustardtree/portal/pkg/auth"
	"github.com/mustardtree/portal/pkg/rbac"
	"github.com/mustardtree/portal/pkg/sanitize"
)

func defaultCustomers(now time.Time) []Customer {
	return []Customer{
		{
			ID:          "customer-1",
			Name:        "Acme Corporation",
			Email:       "contact@acme.com",
			Company:     "Acme Corporation",
			AccessLevel: AccessReadWrite,
			IsActive:    true,
			CreatedAt:   now,
		},
	}
}

func (s *Service) isDemo(c *Customer) bool {
	return c.IsDemo || contains(s.cfg.DemoCustomers, c.ID)
}

// ListCustomers returns the active customers
func (s *Service) ListCustomers(ctx context.Context, principal *auth.Principal) ([]Customer, error) {
	principal = orAnonymous(principal)
	if !rbac.Can(principal.Role, rbac.CustomerRead) {
		return nil, auth.ErrForbidden
	}
	items, err := s.customers.Load(ctx)
	if err != nil {
		return nil, err
	}
	active := make([]Customer, 0, len(items))
	for _, c := range items {
		if c.IsActive {
			active = append(active, c)
		}
	}
	return active, nil
}

// GetCustomer returns an active customer. Customers may only read their own
// record.
func (s *Service) GetCustomer(ctx context.Context, principal *auth.Principal, id string) (*Customer, error) {
	principal = orAnonymous(principal)
	if !rbac.Can(principal.Role, rbac.CustomerRead) && principal.CustomerID() != id {
		return nil, auth.ErrForbidden
	}
	return s.activeCustomer(ctx, id)
}

func (s *Service) activeCustomer(ctx context.Context, id string) (*Customer, error) {
	items, err := s.customers.Load(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range items {
		if c.ID == id && c.IsActive {
			return &c, nil
		}
	}
	return nil, ErrCustomerNotFound
}

// CreateCustomer adds an active customer
func (s *Service) CreateCustomer(ctx context.Context, principal *auth.Principal, in CustomerInput) (*Customer, error) {
	principal = orAnonymous(principal)
	if !rbac.Can(principal.Role, rbac.CustomerManage) {
		return nil, auth.ErrForbidden
	}

	level := in.AccessLevel
	if level == "" {
		level = AccessReadOnly
	}
	customer := Customer{
		ID:          "customer-" + uuid.New().String(),
		Name:        sanitize.Text(in.Name),
		Email:       sanitize.Text(in.Email),
		Company:     sanitize.Text(in.Company),
		AccessLevel: level,
		IsActive:    true,
		IsDemo:      in.IsDemo,
		CreatedAt:   s.now(),
	}
	if customer.Name == "" {
		return nil, fmt.Errorf("%w: customer name is required", ErrInvalidInput)
	}
	if !sanitize.ValidEmail(customer.Email) {
		return nil, fmt.Errorf("%w: invalid email %q", ErrInvalidInput, customer.Email)
	}
	if level != AccessReadOnly && level != AccessReadWrite {
		return nil, fmt.Errorf("%w: unknown access level %q", ErrInvalidInput, level)
	}

	_, err := s.customers.Update(ctx, func(items []Customer) ([]Customer, error) {
		return append(items, customer), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store customer: %w", err)
	}
	return &customer, nil
}

// DeactivateCustomer hides a customer. Its documents are kept.
func (s *Service) DeactivateCustomer(ctx context.Context, principal *auth.Principal, id string) error {
	principal = orAnonymous(principal)
	if !rbac.Can(principal.Role, rbac.CustomerManage) {
		return auth.ErrForbidden
	}
	_, err := s.customers.Update(ctx, func(items []Customer) ([]Customer, error) {
		for i := range items {
			if items[i].ID == id && items[i].IsActive {
				items[i].IsActive = false
				return items, nil
			}
		}
		return nil, ErrCustomerNotFound
	})
	return err
}

// ListFolders returns the folders of customerID, or every folder for staff
// when customerID is empty
func (s *Service) ListFolders(ctx context.Context, principal *auth.Principal, customerID string) ([]Folder, error) {
	principal = orAnonymous(principal)
	if !rbac.Can(principal.Role, rbac.FolderRead) {
		return nil, auth.ErrForbidden
	}
	if scope, limited := scopedCustomer(principal); limited {
		if customerID != "" && customerID != scope {
			return nil, auth.ErrForbidden
		}
		customerID = scope
		if customerID == "" {
			return []Folder{}, nil
		}
	}

	items, err := s.folders.Load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Folder, 0, len(items))
	for _, f := range items {
		if customerID == "" || f.CustomerID == customerID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *Service) folder(ctx context.Context, customerID, id string) (*Folder, error) {
	items, err := s.folders.Load(ctx)
	if err != nil {
		return nil, err
	}
	for _, f := range items {
		if f.ID == id && f.CustomerID == customerID {
			return &f, nil
		}
	}
	return nil, ErrFolderNotFound
}

// CreateFolder adds a folder under an active customer. A parent folder must
// belong to the same customer.
func (s *Service) CreateFolder(ctx context.Context, principal *auth.Principal, in FolderInput) (*Folder, error) {
	principal = orAnonymous(principal)
	if !rbac.Can(principal.Role, rbac.FolderCreate) {
		return nil, auth.ErrForbidden
	}
	name := sanitize.Text(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: folder name is required", ErrInvalidInput)
	}
	if _, err := s.activeCustomer(ctx, in.CustomerID); err != nil {
		return nil, err
	}
	if in.ParentFolderID != "" {
		if _, err := s.folder(ctx, in.CustomerID, in.ParentFolderID); err != nil {
			return nil, err
		}
	}

	now := s.now()
	f := Folder{
		ID:             "folder-" + uuid.New().String(),
		Name:           name,
		CustomerID:     in.CustomerID,
		ParentFolderID: in.ParentFolderID,
		CreatedBy:      principal.Subject(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	_, err := s.folders.Update(ctx, func(items []Folder) ([]Folder, error) {
		return append(items, f), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store folder: %w", err)
	}
	return &f, nil
}
