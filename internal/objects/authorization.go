package objects

import (
	"github.com/openregister/openregister/internal/auth"
	"github.com/openregister/openregister/internal/db/models"
	"github.com/openregister/openregister/internal/db/repositories"
)

const (
	actionCreate = "create"
	actionRead   = "read"
	actionUpdate = "update"
	actionDelete = "delete"
)

// authorize checks the actor against the register, schema and object
// authorization maps in that order. Elevated actors and the object's owner
// pass unconditionally.
func authorize(actor auth.Actor, action string, reg *models.Register, sch *models.Schema, obj *models.ObjectEntity) error {
	if actor.Elevated {
		return nil
	}
	if obj != nil && obj.Owner != nil && actor.UserID != "" && *obj.Owner == actor.UserID {
		return nil
	}
	if reg != nil && !reg.Authorization.Allows(action, actor.Groups) {
		return notAuthorized(action, "register "+reg.Slug)
	}
	if sch != nil && !sch.Authorization.Allows(action, actor.Groups) {
		return notAuthorized(action, "schema "+sch.Slug)
	}
	if obj != nil && !obj.Authorization.Allows(action, actor.Groups) {
		return notAuthorized(action, "object "+obj.UUID)
	}
	return nil
}

// AuthorizeRead checks read access to a register and schema; either may be nil
func AuthorizeRead(actor auth.Actor, reg *models.Register, sch *models.Schema) error {
	return authorize(actor, actionRead, reg, sch, nil)
}

// ReadScope returns the per-object read restriction for listings on behalf of
// actor, or nil when the actor may read every object
func ReadScope(actor auth.Actor) *repositories.ReadAccess {
	if actor.Elevated {
		return nil
	}
	return &repositories.ReadAccess{UserID: actor.UserID, Groups: actor.Groups}
}
