package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/rbac"
)

func putUser(t *testing.T, s DocumentStore, id string, role rbac.Role) {
	t.Helper()
	doc, err := Encode(User{ID: id, Role: role})
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), CollectionUsers, doc))
}

func TestGuardDeniesTransientlyBeforeProvisioning(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	guard := NewGuard(inner, "u1")

	_, err := guard.Subscribe(ctx, CollectionBets, func(Snapshot) {}, nil)
	require.Error(t, err)
	assert.True(t, IsTransient(err))

	err = guard.Put(ctx, CollectionBets, doc("b1", `{"title":"x"}`))
	require.Error(t, err)
	assert.True(t, IsTransient(err))

	putUser(t, inner, "u1", rbac.RoleEditor)
	require.NoError(t, guard.Put(ctx, CollectionBets, doc("b1", `{"title":"x"}`)))
	cancel, err := guard.Subscribe(ctx, CollectionBets, func(Snapshot) {}, nil)
	require.NoError(t, err)
	cancel()
}

func TestGuardViewerPermissions(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	putUser(t, inner, "viewer", rbac.RoleViewer)
	guard := NewGuard(inner, "viewer")

	err := guard.Put(ctx, CollectionBets, doc("b1", `{}`))
	require.Error(t, err)
	assert.True(t, IsPermissionDenied(err))
	assert.False(t, IsTransient(err))

	require.NoError(t, guard.Put(ctx, CollectionComments, doc("c1", `{"body":"hi"}`)))
	require.NoError(t, guard.Put(ctx, CollectionActivity, doc("a1", `{"type":"commented"}`)))

	_, err = guard.Get(ctx, CollectionComments, "c1")
	require.NoError(t, err)
}

func TestGuardActivityIsAppendOnly(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	putUser(t, inner, "viewer", rbac.RoleViewer)
	putUser(t, inner, "admin", rbac.RoleAdmin)

	for _, principal := range []string{"viewer", "admin"} {
		t.Run(principal, func(t *testing.T) {
			guard := NewGuard(inner, principal)
			id := "a-" + principal
			require.NoError(t, guard.Put(ctx, CollectionActivity, doc(id, `{"type":"created","summary":"real"}`)))

			err := guard.Put(ctx, CollectionActivity, doc(id, `{"type":"created","summary":"forged"}`))
			require.Error(t, err)
			assert.True(t, IsPermissionDenied(err))
			assert.False(t, IsTransient(err))

			err = guard.Delete(ctx, CollectionActivity, id)
			assert.True(t, IsPermissionDenied(err))

			stored, err := inner.Get(ctx, CollectionActivity, id)
			require.NoError(t, err)
			assert.JSONEq(t, `{"type":"created","summary":"real"}`, string(stored.Data))
		})
	}
	assert.Equal(t, rbac.ActionAdmin, RequiredAction(CollectionActivity, true))
}

func TestGuardEditorCannotDeleteThemesOrTouchUsers(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	putUser(t, inner, "ed", rbac.RoleEditor)
	putUser(t, inner, "other", rbac.RoleViewer)
	guard := NewGuard(inner, "ed")

	require.NoError(t, guard.Put(ctx, CollectionThemes, doc("t1", `{"name":"Growth"}`)))
	assert.True(t, IsPermissionDenied(guard.Delete(ctx, CollectionThemes, "t1")))

	other, err := Encode(User{ID: "other", Role: rbac.RoleAdmin})
	require.NoError(t, err)
	assert.True(t, IsPermissionDenied(guard.Put(ctx, CollectionUsers, other)))
}

func TestGuardSelfRoleChange(t *testing.T) {
	ctx := context.Background()

	t.Run("viewer cannot promote self", func(t *testing.T) {
		inner := NewMemoryStore()
		putUser(t, inner, "u1", rbac.RoleViewer)
		guard := NewGuard(inner, "u1")

		promoted, err := Encode(User{ID: "u1", Role: rbac.RoleAdmin})
		require.NoError(t, err)
		assert.True(t, IsPermissionDenied(guard.Put(ctx, CollectionUsers, promoted)))

		renamed, err := Encode(User{ID: "u1", DisplayName: "Ada", Role: rbac.RoleViewer})
		require.NoError(t, err)
		require.NoError(t, guard.Put(ctx, CollectionUsers, renamed))
	})

	t.Run("first sign-in may create own viewer doc", func(t *testing.T) {
		inner := NewMemoryStore()
		guard := NewGuard(inner, "u2")
		self, err := Encode(User{ID: "u2", Role: rbac.RoleViewer})
		require.NoError(t, err)
		require.NoError(t, guard.Put(ctx, CollectionUsers, self))
		assert.Equal(t, 1, inner.Len(CollectionUsers))
	})

	t.Run("bootstrap admin", func(t *testing.T) {
		inner := NewMemoryStore()
		guard := NewGuard(inner, "root", "root")
		self, err := Encode(User{ID: "root", Role: rbac.RoleAdmin})
		require.NoError(t, err)
		require.NoError(t, guard.Put(ctx, CollectionUsers, self))

		require.NoError(t, guard.Put(ctx, CollectionThemes, doc("t1", `{}`)))
		require.NoError(t, guard.Delete(ctx, CollectionThemes, "t1"))

		got, err := guard.Get(ctx, CollectionUsers, "root")
		require.NoError(t, err)
		var user User
		require.NoError(t, json.Unmarshal(got.Data, &user))
		assert.Equal(t, rbac.RoleAdmin, user.Role)
	})
}

func TestGuardDeletedPrincipal(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	require.NoError(t, inner.Put(ctx, CollectionUsers, doc("gone", `{"role":"editor","deleted_at":"2026-01-01T00:00:00Z"}`)))
	guard := NewGuard(inner, "gone")

	err := guard.Put(ctx, CollectionBets, doc("b1", `{}`))
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}
