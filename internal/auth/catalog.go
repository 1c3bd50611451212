package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type CatalogInput struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// CreateEntry adds a permission or role. Codes are upper case, names lower
// case; a duplicate code yields ErrConflict.
func (s *Service) CreateEntry(ctx context.Context, c Catalog, in CatalogInput) (CatalogEntry, error) {
	if err := checkCatalog(c); err != nil {
		return CatalogEntry{}, err
	}
	code := strings.ToUpper(strings.TrimSpace(in.Code))
	name := strings.ToLower(strings.TrimSpace(in.Name))

	var v validation
	if code == "" {
		v.add("code", "code field is required")
	} else if strings.ContainsAny(code, " \t") {
		v.add("code", "code must not contain spaces")
	}
	if name == "" {
		v.add("name", "name field is required")
	}
	if err := v.err(); err != nil {
		return CatalogEntry{}, err
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return CatalogEntry{}, fmt.Errorf("create %s: generate id: %w", c, err)
	}
	entry, err := s.store.CreateEntry(ctx, c, CatalogEntry{ID: id, Code: code, Name: name})
	if err != nil {
		return CatalogEntry{}, err
	}
	s.logger.WithFields(logrus.Fields{"catalog": c, "code": entry.Code}).Info("catalog entry created")
	return entry, nil
}

func (s *Service) GetEntry(ctx context.Context, c Catalog, id uuid.UUID) (CatalogEntry, error) {
	if err := checkCatalog(c); err != nil {
		return CatalogEntry{}, err
	}
	return s.store.GetEntry(ctx, c, id)
}

func (s *Service) ListEntries(ctx context.Context, c Catalog, q ListQuery) (Page[CatalogEntry], error) {
	if err := checkCatalog(c); err != nil {
		return Page[CatalogEntry]{}, err
	}
	q = q.Normalize("code", "name")
	q.Search = strings.TrimSpace(q.Search)
	return s.store.ListEntries(ctx, c, q)
}

// RenameEntry changes the display name; codes are immutable.
func (s *Service) RenameEntry(ctx context.Context, c Catalog, id uuid.UUID, name string) (CatalogEntry, error) {
	if err := checkCatalog(c); err != nil {
		return CatalogEntry{}, err
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return CatalogEntry{}, &ValidationError{Fields: map[string][]string{"name": {"name field is required"}}}
	}
	return s.store.RenameEntry(ctx, c, id, name)
}

// DeleteEntry removes the entry and every association pointing at it.
func (s *Service) DeleteEntry(ctx context.Context, c Catalog, id uuid.UUID) error {
	if err := checkCatalog(c); err != nil {
		return err
	}
	if err := s.store.DeleteEntry(ctx, c, id); err != nil {
		return err
	}
	// cached principals of any account may carry the code
	if s.cache != nil {
		s.cache.Flush(ctx)
	}
	s.logger.WithFields(logrus.Fields{"catalog": c, "id": id}).Info("catalog entry deleted")
	return nil
}
