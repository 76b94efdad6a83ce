package objects

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openregister/openregister/internal/audit"
	"github.com/openregister/openregister/internal/auth"
	"github.com/openregister/openregister/internal/db/models"
	"github.com/openregister/openregister/internal/telemetry"
)

// LockOptions configures a lock request. A zero TTL uses the configured default.
type LockOptions struct {
	TTL     time.Duration
	Process string
}

// Lock places an advisory lock on the object for the actor. Acquisition is a
// single conditional update in the store, so two concurrent requests cannot
// both succeed. Re-locking an object the actor already holds refreshes the
// expiry and issues a new token.
func (s *Service) Lock(ctx context.Context, ref Ref, actor auth.Actor, opts LockOptions) (*models.Lock, error) {
	if actor.IsAnonymous() {
		return nil, notAuthorized("lock", "object "+ref.ID)
	}
	ttl := opts.TTL
	switch {
	case ttl < 0:
		return nil, invalidInput("lock duration must be positive")
	case ttl == 0:
		ttl = s.cfg.DefaultLockTTL
	}
	if s.cfg.MaxLockTTL > 0 && ttl > s.cfg.MaxLockTTL {
		ttl = s.cfg.MaxLockTTL
	}

	var (
		obj  *models.ObjectEntity
		lock models.Lock
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		obj, err = s.objects.GetObject(ctx, ref.ID)
		if err != nil {
			return storeErr("load object", err)
		}
		if obj == nil || obj.IsDeleted() {
			return notFound("object", ref.ID)
		}
		reg, sch, err := s.scope(ctx, obj, ref)
		if err != nil {
			return err
		}
		if err := authorize(actor, actionUpdate, reg, sch, obj); err != nil {
			return err
		}

		now := s.now().UTC()
		lock = models.Lock{
			User:      actor.UserID,
			Token:     uuid.NewString(),
			ExpiresAt: now.Add(ttl),
		}
		if opts.Process != "" {
			process := opts.Process
			lock.Process = &process
		}
		ok, err := s.objects.AcquireLock(ctx, obj.UUID, lock, now)
		if err != nil {
			return storeErr("lock object", err)
		}
		if !ok {
			// Distinguish a concurrent delete from a competing lock.
			current, err := s.objects.GetObject(ctx, obj.UUID)
			if err != nil {
				return storeErr("load object", err)
			}
			if current == nil || current.IsDeleted() {
				return notFound("object", ref.ID)
			}
			if err := checkLock(current, actor, now); err != nil {
				return err
			}
			return storeErr("lock object", fmt.Errorf("lock on %s was not acquired", obj.UUID))
		}
		obj.Locked = &lock

		_, err = s.recorder.Record(ctx, audit.Entry{
			Action:     models.ActionLock,
			ObjectUUID: obj.UUID,
			Version:    obj.Version,
			Before:     obj.Object,
			After:      obj.Object,
			Register:   reg,
			Schema:     sch,
		}, actor)
		return storeErr("record audit trail", err)
	})
	if err != nil {
		return nil, err
	}

	s.committed(ctx, models.ActionLock, obj, actor, map[string]any{"expiresAt": lock.ExpiresAt})
	return &lock, nil
}

// Unlock releases the lock identified by token. An elevated actor may release
// any lock without the token. Unlocking an object that carries no active lock
// succeeds without effect.
func (s *Service) Unlock(ctx context.Context, ref Ref, actor auth.Actor, token string) error {
	var (
		obj      *models.ObjectEntity
		released bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		obj, err = s.objects.GetObjectForUpdate(ctx, ref.ID)
		if err != nil {
			return storeErr("load object", err)
		}
		if obj == nil {
			return notFound("object", ref.ID)
		}
		reg, sch, err := s.scope(ctx, obj, ref)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		if !obj.Locked.IsActive(now) {
			if obj.Locked != nil {
				return storeErr("clear lock", s.objects.ClearLock(ctx, obj.UUID))
			}
			return nil
		}
		if !actor.Elevated && (token == "" || token != obj.Locked.Token) {
			telemetry.LockConflictsTotal.Inc()
			return &LockConflictError{Holder: obj.Locked.User, ExpiresAt: obj.Locked.ExpiresAt}
		}

		if err := s.objects.ClearLock(ctx, obj.UUID); err != nil {
			return storeErr("clear lock", err)
		}
		obj.Locked = nil
		released = true

		_, err = s.recorder.Record(ctx, audit.Entry{
			Action:     models.ActionUnlock,
			ObjectUUID: obj.UUID,
			Version:    obj.Version,
			Before:     obj.Object,
			After:      obj.Object,
			Register:   reg,
			Schema:     sch,
		}, actor)
		return storeErr("record audit trail", err)
	})
	if err != nil {
		return err
	}
	if released {
		s.committed(ctx, models.ActionUnlock, obj, actor, nil)
	}
	return nil
}
