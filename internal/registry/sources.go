package registry

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/openregister/openregister/internal/auth"
	"github.com/openregister/openregister/internal/db/models"
	"github.com/openregister/openregister/internal/validation"
)

// SourceInput carries the caller-supplied fields of a source
type SourceInput struct {
	Title       string  `json:"title"`
	Description *string `json:"description"`
	Type        string  `json:"type"`
	DatabaseURL *string `json:"databaseUrl"`
}

// ListSources lists every source
func (s *Service) ListSources(ctx context.Context) ([]*models.Source, error) {
	sources, err := s.sources.ListSources(ctx)
	if err != nil {
		return nil, storeErr("list sources", err)
	}
	return sources, nil
}

// GetSource returns the source with the given UUID, or (nil, nil)
func (s *Service) GetSource(ctx context.Context, id string) (*models.Source, error) {
	if !isUUID(id) {
		return nil, nil
	}
	src, err := s.sources.GetSource(ctx, id)
	if err != nil {
		return nil, storeErr("get source", err)
	}
	return src, nil
}

// CreateSource validates and stores a new source
func (s *Service) CreateSource(ctx context.Context, in SourceInput, actor auth.Actor) (*models.Source, error) {
	if err := requireIdentity(actor, "create", "source"); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	src := &models.Source{UUID: uuid.NewString(), Created: now, Updated: now}
	applySourceInput(src, in)
	if err := checkSource(src); err != nil {
		return nil, err
	}
	if err := s.sources.CreateSource(ctx, src); err != nil {
		return nil, storeErr("create source", err)
	}
	return src, nil
}

// UpdateSource replaces the source's fields. A nil DatabaseURL keeps the
// stored one, since it is never returned to callers.
func (s *Service) UpdateSource(ctx context.Context, id string, in SourceInput, actor auth.Actor) (*models.Source, error) {
	if err := requireIdentity(actor, "update", "source"); err != nil {
		return nil, err
	}
	current, err := s.GetSource(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, notFound("source", id)
	}

	next := *current
	if in.DatabaseURL == nil {
		in.DatabaseURL = current.DatabaseURL
	}
	applySourceInput(&next, in)
	next.Updated = s.now().UTC()
	if err := checkSource(&next); err != nil {
		return nil, err
	}
	if err := s.sources.UpdateSource(ctx, &next); err != nil {
		return nil, storeErr("update source", err)
	}
	return &next, nil
}

// DeleteSource removes the source. A source referenced by a live register
// cannot be deleted.
func (s *Service) DeleteSource(ctx context.Context, id string, actor auth.Actor) error {
	if err := requireIdentity(actor, "delete", "source"); err != nil {
		return err
	}
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		src, err := s.GetSource(ctx, id)
		if err != nil {
			return err
		}
		if src == nil {
			return notFound("source", id)
		}
		regs, err := s.registers.ListRegisters(ctx, false)
		if err != nil {
			return storeErr("list registers", err)
		}
		for _, reg := range regs {
			if deref(reg.Source) == src.UUID {
				return invalidInput("source %q is used by register %q", src.Title, reg.Slug)
			}
		}
		return storeErr("delete source", s.sources.DeleteSource(ctx, src.UUID))
	})
}

func applySourceInput(src *models.Source, in SourceInput) {
	src.Title = strings.TrimSpace(in.Title)
	src.Description = in.Description
	src.Type = strings.ToLower(strings.TrimSpace(in.Type))
	if src.Type == "" {
		src.Type = models.SourceInternal
	}
	src.DatabaseURL = in.DatabaseURL
}

func checkSource(src *models.Source) error {
	var problems []validation.FieldError
	if src.Title == "" {
		problems = append(problems, validation.FieldError{Field: "title", Message: "title is required"})
	}
	switch src.Type {
	case models.SourceInternal:
	case models.SourcePostgreSQL:
		if deref(src.DatabaseURL) == "" {
			problems = append(problems, validation.FieldError{Field: "databaseUrl", Message: "databaseUrl is required for postgresql sources"})
		} else if u, err := url.Parse(*src.DatabaseURL); err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
			problems = append(problems, validation.FieldError{Field: "databaseUrl", Message: "databaseUrl must be a postgres:// URL"})
		}
	default:
		problems = append(problems, validation.FieldError{
			Field:   "type",
			Message: fmt.Sprintf("unsupported source type %q (must be %q or %q)", src.Type, models.SourceInternal, models.SourcePostgreSQL),
		})
	}
	if len(problems) > 0 {
		return validationError(problems)
	}
	return nil
}
