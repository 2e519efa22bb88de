package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/config"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/rbac"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/store"
)

const waitFor = 2 * time.Second

func testConfig() config.Config {
	cfg := config.Defaults()
	cfg.JWTSecret = "test-secret"
	cfg.Retry = config.Retry{InitialDelay: time.Millisecond, Factor: 2, MaxRetries: 3, MaxDelay: 5 * time.Millisecond}
	return cfg
}

func startService(t *testing.T, docs store.DocumentStore, cfg config.Config, id string, opts ...Option) *Service {
	t.Helper()
	svc := New(cfg, docs, opts...)
	require.NoError(t, svc.Start(context.Background(), Identity{ID: id, DisplayName: id, Email: id + "@example.com"}))
	t.Cleanup(svc.Stop)
	return svc
}

func storedUser(t *testing.T, docs store.DocumentStore, id string) store.User {
	t.Helper()
	doc, err := docs.Get(context.Background(), store.CollectionUsers, id)
	require.NoError(t, err)
	var user store.User
	require.NoError(t, json.Unmarshal(doc.Data, &user))
	return user
}

func putDoc(t *testing.T, docs store.DocumentStore, e store.Entity) {
	t.Helper()
	doc, err := store.Encode(e)
	require.NoError(t, err)
	require.NoError(t, docs.Put(context.Background(), e.EntityCollection(), doc))
}

func TestStartProvisionsFirstUserAsAdmin(t *testing.T) {
	docs := store.NewMemoryStore()
	cfg := testConfig()

	startService(t, docs, cfg, "u1")
	startService(t, docs, cfg, "u2")

	assert.Equal(t, rbac.RoleAdmin, storedUser(t, docs, "u1").Role)
	assert.Equal(t, rbac.RoleViewer, storedUser(t, docs, "u2").Role)
}

func TestStartKeepsExistingRoleAndRefreshesProfile(t *testing.T) {
	docs := store.NewMemoryStore()
	putDoc(t, docs, store.User{ID: "u1", DisplayName: "Old", Role: rbac.RoleEditor})

	startService(t, docs, testConfig(), "u1")

	user := storedUser(t, docs, "u1")
	assert.Equal(t, rbac.RoleEditor, user.Role)
	assert.Equal(t, "u1", user.DisplayName)
	assert.Equal(t, "u1@example.com", user.Email)
}

func TestBootstrapAdminIsProvisionedAsAdmin(t *testing.T) {
	docs := store.NewMemoryStore()
	putDoc(t, docs, store.User{ID: "someone", Role: rbac.RoleAdmin})
	cfg := testConfig()
	cfg.BootstrapAdmins = []string{"boss"}

	startService(t, docs, cfg, "boss")

	assert.Equal(t, rbac.RoleAdmin, storedUser(t, docs, "boss").Role)
}

func TestDeletedUserCannotStart(t *testing.T) {
	docs := store.NewMemoryStore()
	deleted := time.Now()
	putDoc(t, docs, store.User{ID: "gone", Role: rbac.RoleEditor, DeletedAt: &deleted})

	svc := New(testConfig(), docs)
	err := svc.Start(context.Background(), Identity{ID: "gone"})
	require.Error(t, err)
	assert.True(t, store.IsPermissionDenied(err))
	status, _ := svc.Status()
	assert.Equal(t, StatusStopped, status)
}

func TestStartTwiceFails(t *testing.T) {
	svc := startService(t, store.NewMemoryStore(), testConfig(), "u1")
	assert.ErrorIs(t, svc.Start(context.Background(), Identity{ID: "u1"}), ErrStarted)
}

func TestConcurrentSessionsSeedDefaultThemesOnce(t *testing.T) {
	docs := store.NewMemoryStore()
	cfg := testConfig()

	a := startService(t, docs, cfg, "alice")
	b := startService(t, docs, cfg, "bob")

	require.Eventually(t, func() bool {
		return len(a.entities.Themes()) == 4 && len(b.entities.Themes()) == 4
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, 4, docs.Len(store.CollectionThemes))

	ids := make(map[string]bool)
	for _, theme := range a.entities.Themes() {
		ids[theme.ID] = true
	}
	assert.Len(t, ids, 4)
}

func TestSeedingDisabled(t *testing.T) {
	docs := store.NewMemoryStore()
	cfg := testConfig()
	cfg.SeedThemes = false

	svc := startService(t, docs, cfg, "u1")

	require.Eventually(t, func() bool { return svc.entities.Ready(store.CollectionThemes) }, waitFor, 5*time.Millisecond)
	svc.Stop()
	assert.Zero(t, docs.Len(store.CollectionThemes))
}

func TestSeedThemesSkipsExisting(t *testing.T) {
	docs := store.NewMemoryStore()
	putDoc(t, docs, store.Theme{ID: "theme-growth", Name: "Revenue"})

	written, err := SeedThemes(context.Background(), docs, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, written)

	doc, err := docs.Get(context.Background(), store.CollectionThemes, "theme-growth")
	require.NoError(t, err)
	assert.Contains(t, string(doc.Data), "Revenue")

	written, err = SeedThemes(context.Background(), docs, time.Now())
	require.NoError(t, err)
	assert.Zero(t, written)
}

func TestPermanentSubscriptionFailureBlocksSession(t *testing.T) {
	docs := store.NewMemoryStore()
	putDoc(t, docs, store.User{ID: "u1", Role: rbac.RoleEditor})
	docs.FailNext(store.OpSubscribe, store.CollectionBets, 1, &store.AccessError{Op: "subscribe", Collection: store.CollectionBets, Reason: "revoked"})

	svc := startService(t, docs, testConfig(), "u1")

	require.Eventually(t, func() bool {
		status, _ := svc.Status()
		return status == StatusBlocked
	}, waitFor, 5*time.Millisecond)

	_, blockErr := svc.Status()
	assert.ErrorIs(t, blockErr, ErrBlocked)
	_, err := svc.Entities()
	assert.ErrorIs(t, err, ErrBlocked)
	_, err = svc.ResolveGraph("")
	assert.ErrorIs(t, err, ErrBlocked)

	require.NoError(t, svc.Restart(context.Background()))
	status, err := svc.Status()
	assert.Equal(t, StatusActive, status)
	assert.NoError(t, err)
}

func TestStopClearsEntitiesAndIsIdempotent(t *testing.T) {
	docs := store.NewMemoryStore()
	svc := startService(t, docs, testConfig(), "u1")
	require.Eventually(t, func() bool { return svc.entities.Ready(store.CollectionUsers) }, waitFor, 5*time.Millisecond)

	svc.Stop()
	svc.Stop()

	status, _ := svc.Status()
	assert.Equal(t, StatusStopped, status)
	assert.False(t, svc.entities.Ready(store.CollectionUsers))
	_, err := svc.Entities()
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestWritesFlowIntoPopulatedBetsAndGraph(t *testing.T) {
	docs := store.NewMemoryStore()
	svc := startService(t, docs, testConfig(), "u1")
	require.Eventually(t, func() bool {
		_, ok := svc.entities.User("u1")
		return ok
	}, waitFor, 5*time.Millisecond)

	coord, err := svc.Coordinator()
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, coord.Write(ctx, store.Outcome{ID: "o1", Title: "Grow", Health: store.HealthGreen}))
	require.NoError(t, coord.Write(ctx, store.Measure{ID: "m1", OutcomeID: "o1", Name: "NRR"}))
	require.NoError(t, coord.Write(ctx, store.Bet{ID: "b1", Title: "Onboarding", Stage: store.StageActive, LinkedMeasureIDs: []string{"m1"}}))
	require.NoError(t, coord.Write(ctx, store.Task{ID: "t1", BetID: "b1", Title: "Checklist", Progress: 50}))
	require.NoError(t, coord.Write(ctx, store.Task{ID: "t2", BetID: "b1", Title: "Emails", Progress: 25}))

	require.Eventually(t, func() bool {
		bets, err := svc.PopulatedBets()
		return err == nil && len(bets) == 1 && len(bets[0].Tasks) == 2 && bets[0].Progress == 38
	}, waitFor, 5*time.Millisecond)

	view, err := svc.ResolveGraph("")
	require.NoError(t, err)
	active := view.ActiveSetForHover("m1", "measure")
	assert.Equal(t, []string{"b1", "m1", "o1", "t1", "t2"}, active.IDs())
	assert.Contains(t, view.Layout, "t2")
}

type fakeGenerator struct {
	prompt string
	text   string
	err    error
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.text, f.err
}

func TestGenerateAdvisoryStoresText(t *testing.T) {
	docs := store.NewMemoryStore()
	gen := &fakeGenerator{text: "  Ship the checklist first.  "}
	svc := startService(t, docs, testConfig(), "u1", WithGenerator(gen))
	require.Eventually(t, func() bool {
		_, ok := svc.entities.User("u1")
		return ok
	}, waitFor, 5*time.Millisecond)

	coord, err := svc.Coordinator()
	require.NoError(t, err)
	require.NoError(t, coord.Write(context.Background(), store.Bet{ID: "b1", Title: "Onboarding", Stage: store.StageActive, Hypothesis: "Faster setup"}))

	text, err := svc.GenerateAdvisory(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, "Ship the checklist first.", text)
	assert.Contains(t, gen.prompt, "Strategic bet: Onboarding")
	assert.Contains(t, gen.prompt, "Hypothesis: Faster setup")

	bet, ok := svc.entities.Bet("b1")
	require.True(t, ok)
	assert.Equal(t, "Ship the checklist first.", bet.Advisory)
}

func TestGenerateAdvisoryErrors(t *testing.T) {
	docs := store.NewMemoryStore()
	svc := startService(t, docs, testConfig(), "u1")
	_, err := svc.GenerateAdvisory(context.Background(), "b1")
	assert.ErrorIs(t, err, ErrNoGenerator)

	other := startService(t, docs, testConfig(), "u2", WithGenerator(&fakeGenerator{err: errors.New("quota")}))
	_, err = other.GenerateAdvisory(context.Background(), "missing")
	assert.Error(t, err)
}
