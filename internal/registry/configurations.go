package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/openregister/openregister/internal/auth"
	"github.com/openregister/openregister/internal/db/models"
	"github.com/openregister/openregister/internal/validation"
)

// ConfigurationInput carries the caller-supplied fields of a configuration
type ConfigurationInput struct {
	Title       string   `json:"title"`
	Description *string  `json:"description"`
	Type        string   `json:"type"`
	Owner       *string  `json:"owner"`
	Registers   []string `json:"registers"` // UUIDs or slugs
}

// ListConfigurations lists every configuration
func (s *Service) ListConfigurations(ctx context.Context) ([]*models.Configuration, error) {
	cfgs, err := s.configurations.ListConfigurations(ctx)
	if err != nil {
		return nil, storeErr("list configurations", err)
	}
	return cfgs, nil
}

// GetConfiguration returns the configuration with the given UUID, or (nil, nil)
func (s *Service) GetConfiguration(ctx context.Context, id string) (*models.Configuration, error) {
	if !isUUID(id) {
		return nil, nil
	}
	c, err := s.configurations.GetConfiguration(ctx, id)
	if err != nil {
		return nil, storeErr("get configuration", err)
	}
	return c, nil
}

// CreateConfiguration stores a new configuration grouping existing registers
func (s *Service) CreateConfiguration(ctx context.Context, in ConfigurationInput, actor auth.Actor) (*models.Configuration, error) {
	if err := requireIdentity(actor, "create", "configuration"); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	c := &models.Configuration{
		UUID:    uuid.NewString(),
		Version: validation.InitialVersion,
		Created: now,
		Updated: now,
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		registers, err := s.resolveRegisters(ctx, in.Registers)
		if err != nil {
			return err
		}
		applyConfigurationInput(c, in, registers)
		if c.Owner == nil && actor.UserID != "" {
			owner := actor.UserID
			c.Owner = &owner
		}
		if err := checkConfiguration(c); err != nil {
			return err
		}
		return storeErr("create configuration", s.configurations.CreateConfiguration(ctx, c))
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// UpdateConfiguration replaces the configuration's fields, bumping its
// version when anything changed
func (s *Service) UpdateConfiguration(ctx context.Context, id string, in ConfigurationInput, actor auth.Actor) (*models.Configuration, error) {
	var out *models.Configuration
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.GetConfiguration(ctx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return notFound("configuration", id)
		}
		if err := canManage(actor, current.Owner, nil, "update", "configuration "+current.Title); err != nil {
			return err
		}

		registers, err := s.resolveRegisters(ctx, in.Registers)
		if err != nil {
			return err
		}
		if in.Owner == nil {
			in.Owner = current.Owner
		}
		next := *current
		applyConfigurationInput(&next, in, registers)
		if err := checkConfiguration(&next); err != nil {
			return err
		}
		if configurationEqual(current, &next) {
			out = current
			return nil
		}

		v, err := validation.BumpPatch(current.Version)
		if err != nil {
			return invalidInput("configuration version: %v", err)
		}
		next.Version = v
		next.Updated = s.now().UTC()
		if err := s.configurations.UpdateConfiguration(ctx, &next); err != nil {
			return storeErr("update configuration", err)
		}
		out = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteConfiguration removes the configuration. The grouped registers are untouched.
func (s *Service) DeleteConfiguration(ctx context.Context, id string, actor auth.Actor) error {
	c, err := s.GetConfiguration(ctx, id)
	if err != nil {
		return err
	}
	if c == nil {
		return notFound("configuration", id)
	}
	if err := canManage(actor, c.Owner, nil, "delete", "configuration "+c.Title); err != nil {
		return err
	}
	return storeErr("delete configuration", s.configurations.DeleteConfiguration(ctx, c.UUID))
}

// resolveRegisters maps register references to UUIDs, reporting every
// reference that does not match a live register
func (s *Service) resolveRegisters(ctx context.Context, refs []string) ([]string, error) {
	refs = dedupe(refs)
	out := make([]string, 0, len(refs))
	var problems []validation.FieldError
	for i, ref := range refs {
		reg, err := s.GetRegister(ctx, ref)
		if err != nil {
			return nil, err
		}
		if reg == nil {
			problems = append(problems, validation.FieldError{
				Field:   fmt.Sprintf("registers/%d", i),
				Message: fmt.Sprintf("register %q does not exist", ref),
			})
			continue
		}
		out = append(out, reg.UUID)
	}
	if len(problems) > 0 {
		return nil, validationError(problems)
	}
	return dedupe(out), nil
}

func applyConfigurationInput(c *models.Configuration, in ConfigurationInput, registers []string) {
	c.Title = strings.TrimSpace(in.Title)
	c.Description = in.Description
	c.Type = strings.TrimSpace(in.Type)
	c.Owner = in.Owner
	c.Registers = registers
}

func checkConfiguration(c *models.Configuration) error {
	if c.Title == "" {
		return validationError([]validation.FieldError{{Field: "title", Message: "title is required"}})
	}
	return nil
}

func configurationEqual(a, b *models.Configuration) bool {
	return a.Title == b.Title && a.Type == b.Type &&
		deref(a.Description) == deref(b.Description) &&
		deref(a.Owner) == deref(b.Owner) &&
		sameSet(a.Registers, b.Registers)
}
