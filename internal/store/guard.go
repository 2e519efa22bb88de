package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/rbac"
)

// Guard enforces the product's access rules in front of a DocumentStore on
// behalf of one signed-in principal:
//
//   - the principal's users/{uid} document must exist before anything else
//     can be read or written; until it does every call fails with a transient
//     AccessError (the post-sign-in race);
//   - the principal may always write its own user document, but may not
//     raise its own role unless it is a bootstrap admin;
//   - comments need rbac.ActionComment, other writes rbac.ActionWrite, and
//     deleting themes or touching other users needs rbac.ActionAdmin;
//   - activity logs are append-only: an existing entry is never replaced
//     and no entry is ever deleted.
type Guard struct {
	inner           DocumentStore
	principal       string
	bootstrapAdmins map[string]bool
}

func NewGuard(inner DocumentStore, principal string, bootstrapAdmins ...string) *Guard {
	admins := make(map[string]bool, len(bootstrapAdmins))
	for _, id := range bootstrapAdmins {
		admins[id] = true
	}
	return &Guard{inner: inner, principal: principal, bootstrapAdmins: admins}
}

func (g *Guard) Principal() string {
	return g.principal
}

// principalUser loads the principal's user document; found is false when it
// does not exist yet.
func (g *Guard) principalUser(ctx context.Context) (User, bool, error) {
	doc, err := g.inner.Get(ctx, CollectionUsers, g.principal)
	if errors.Is(err, ErrNotFound) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, err
	}
	var user User
	if err := json.Unmarshal(doc.Data, &user); err != nil {
		return User{}, false, fmt.Errorf("decode principal %s: %w", g.principal, err)
	}
	user.ID = doc.ID
	return user, true, nil
}

func (g *Guard) role(ctx context.Context, op string, c Collection, id string) (rbac.Role, error) {
	user, found, err := g.principalUser(ctx)
	if err != nil {
		return "", err
	}
	if !found {
		return "", &AccessError{Op: op, Collection: c, ID: id, Transient: true, Reason: "principal not yet provisioned"}
	}
	if user.DeletedAt != nil {
		return "", &AccessError{Op: op, Collection: c, ID: id, Reason: "principal deleted"}
	}
	return rbac.Normalize(string(user.Role)), nil
}

func (g *Guard) Subscribe(ctx context.Context, c Collection, fn SnapshotFunc, onErr func(error)) (func(), error) {
	if _, err := g.role(ctx, "subscribe", c, ""); err != nil {
		return nil, err
	}
	return g.inner.Subscribe(ctx, c, fn, onErr)
}

func (g *Guard) Get(ctx context.Context, c Collection, id string) (Document, error) {
	if c == CollectionUsers && id == g.principal {
		return g.inner.Get(ctx, c, id)
	}
	if _, err := g.role(ctx, "get", c, id); err != nil {
		return Document{}, err
	}
	return g.inner.Get(ctx, c, id)
}

func (g *Guard) Put(ctx context.Context, c Collection, doc Document) error {
	if c == CollectionUsers && doc.ID == g.principal {
		if err := g.checkSelfWrite(ctx, doc); err != nil {
			return err
		}
		return g.inner.Put(ctx, c, doc)
	}
	role, err := g.role(ctx, "put", c, doc.ID)
	if err != nil {
		return err
	}
	if !rbac.Can(role, RequiredAction(c, false)) {
		return &AccessError{Op: "put", Collection: c, ID: doc.ID, Reason: fmt.Sprintf("role %s may not write %s", role, c)}
	}
	if c == CollectionActivity {
		_, err := g.inner.Get(ctx, c, doc.ID)
		if err == nil {
			return &AccessError{Op: "put", Collection: c, ID: doc.ID, Reason: "activity entries are append-only"}
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return g.inner.Put(ctx, c, doc)
}

func (g *Guard) Delete(ctx context.Context, c Collection, id string) error {
	if c == CollectionUsers && id == g.principal {
		return g.inner.Delete(ctx, c, id)
	}
	role, err := g.role(ctx, "delete", c, id)
	if err != nil {
		return err
	}
	if c == CollectionActivity {
		return &AccessError{Op: "delete", Collection: c, ID: id, Reason: "activity entries are never deleted"}
	}
	if !rbac.Can(role, RequiredAction(c, true)) {
		return &AccessError{Op: "delete", Collection: c, ID: id, Reason: fmt.Sprintf("role %s may not delete from %s", role, c)}
	}
	return g.inner.Delete(ctx, c, id)
}

func (g *Guard) checkSelfWrite(ctx context.Context, doc Document) error {
	var next User
	if err := json.Unmarshal(doc.Data, &next); err != nil {
		return fmt.Errorf("decode user %s: %w", doc.ID, err)
	}
	if g.bootstrapAdmins[g.principal] {
		return nil
	}
	current, found, err := g.principalUser(ctx)
	if err != nil {
		return err
	}
	currentRole := rbac.RoleViewer
	if found {
		currentRole = rbac.Normalize(string(current.Role))
	}
	nextRole := rbac.Normalize(string(next.Role))
	if nextRole != currentRole && currentRole != rbac.RoleAdmin {
		return &AccessError{Op: "put", Collection: CollectionUsers, ID: doc.ID, Reason: "users may not change their own role"}
	}
	return nil
}

// RequiredAction is the RBAC action a write to c needs.
func RequiredAction(c Collection, deleting bool) rbac.Action {
	switch c {
	case CollectionUsers:
		return rbac.ActionAdmin
	case CollectionThemes:
		if deleting {
			return rbac.ActionAdmin
		}
		return rbac.ActionWrite
	case CollectionComments:
		return rbac.ActionComment
	case CollectionActivity:
		if deleting {
			return rbac.ActionAdmin
		}
		return rbac.ActionRead
	case CollectionOutcomes, CollectionMeasures, CollectionBets, CollectionTasks,
		CollectionSessions, CollectionSnapshots, CollectionCanvas:
		return rbac.ActionWrite
	default:
		return rbac.ActionAdmin
	}
}

func (g *Guard) Ping(ctx context.Context) error {
	return g.inner.Ping(ctx)
}

// Close does not close the wrapped store; guards are per-session views.
func (g *Guard) Close() error {
	return nil
}
