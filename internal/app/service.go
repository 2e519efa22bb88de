package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/compose"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/config"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/coordinator"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/deeplink"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/entitystore"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/export"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/feed"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/graph"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/metrics"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/rbac"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/search"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/store"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/util"
)

// Identity is what the identity provider tells us about a signed-in user.
type Identity struct {
	ID          string
	DisplayName string
	Email       string
	AvatarURL   string
}

type Status string

const (
	StatusStopped Status = "stopped"
	StatusActive  Status = "active"
	StatusBlocked Status = "blocked"
)

var (
	ErrBlocked     = errors.New("session blocked")
	ErrNotStarted  = errors.New("session not started")
	ErrStarted     = errors.New("session already started")
	ErrNoGenerator = errors.New("advisory generator not configured")
)

// Generator produces free text from a prompt. Its output only ever lands in
// advisory fields.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithGenerator(g Generator) Option {
	return func(s *Service) { s.generator = g }
}

// WithSearchIndex mirrors strategy entities into a remote search index.
func WithSearchIndex(index search.Index) Option {
	return func(s *Service) { s.index = index }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service is one signed-in principal's view of the strategy data: it owns
// the subscriptions feeding the entity store and every write made on the
// principal's behalf. Start subscribes, Stop tears everything down.
type Service struct {
	cfg       config.Config
	docs      store.DocumentStore
	logger    *slog.Logger
	generator Generator
	index     search.Index
	now       func() time.Time
	entities  *entitystore.Store

	// lifecycle serialises Start and Stop.
	lifecycle sync.Mutex

	mu         sync.RWMutex
	status     Status
	blockErr   error
	identity   Identity
	cancel     context.CancelFunc
	ctx        context.Context
	coord      *coordinator.Coordinator
	search     *search.Service
	unsubs     []feed.Unsubscribe
	offChange  func()
	links      map[*deeplink.Sync]struct{}
	themesSeen bool
	wg         sync.WaitGroup

	popMu     sync.Mutex
	popKey    [2]uint64
	populated []compose.PopulatedBet
}

func New(cfg config.Config, docs store.DocumentStore, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg,
		docs:   docs,
		logger: slog.Default(),
		now:    time.Now,
		status: StatusStopped,
		links:  make(map[*deeplink.Sync]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.entities = entitystore.New(s.logger)
	return s
}

// Start provisions the principal's user document and subscribes to every
// collection. It returns once the subscriptions are started; their first
// snapshots arrive asynchronously.
func (s *Service) Start(ctx context.Context, id Identity) error {
	if strings.TrimSpace(id.ID) == "" {
		return badRequest("INVALID_IDENTITY", errors.New("identity id is required"))
	}
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.RLock()
	status := s.status
	s.mu.RUnlock()
	if status != StatusStopped {
		return ErrStarted
	}

	if err := s.ensureUser(ctx, id); err != nil {
		return fmt.Errorf("provision user %s: %w", id.ID, err)
	}

	guard := store.NewGuard(s.docs, id.ID, s.cfg.BootstrapAdmins...)
	policy := s.cfg.Retry.Policy()
	sessionCtx, cancel := context.WithCancel(context.Background())
	s.entities.Reset()
	s.clearPopulated()

	s.mu.Lock()
	s.status = StatusActive
	s.blockErr = nil
	s.identity = id
	s.ctx = sessionCtx
	s.cancel = cancel
	s.themesSeen = false
	s.coord = coordinator.New(guard, s.entities, id.ID,
		coordinator.WithLogger(s.logger),
		coordinator.WithRetryPolicy(policy),
		coordinator.WithClock(s.now),
	)
	s.search = search.NewService(s.index, search.NewLocal(s.entities), s.logger)
	s.mu.Unlock()

	offChange := s.entities.OnChange(s.onChange)
	adapter := feed.New(guard, policy, s.logger)
	unsubs := make([]feed.Unsubscribe, 0, len(store.AllCollections()))
	for _, c := range store.AllCollections() {
		c := c
		opts := []feed.Option{feed.WithErrorHandler(func(err error) { s.block(c, err) })}
		if field := orderField(c); field != "" {
			opts = append(opts, feed.WithOrderField(field))
		}
		unsubs = append(unsubs, adapter.Subscribe(sessionCtx, c, func(items []store.Entity) {
			s.deliver(c, items)
		}, opts...))
	}
	s.mu.Lock()
	s.unsubs = unsubs
	s.offChange = offChange
	s.mu.Unlock()

	metrics.ActiveSessions.Inc()
	s.logger.Info("session started", "user_id", id.ID)
	return nil
}

// Stop cancels every subscription and waits for in-flight deliveries, then
// clears the entity store. Safe to call more than once.
func (s *Service) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.status == StatusStopped {
		s.mu.Unlock()
		return
	}
	unsubs, offChange, cancel, searchSvc := s.unsubs, s.offChange, s.cancel, s.search
	userID := s.identity.ID
	s.unsubs, s.offChange, s.cancel, s.search, s.coord = nil, nil, nil, nil, nil
	s.links = make(map[*deeplink.Sync]struct{})
	s.status = StatusStopped
	s.blockErr = nil
	s.mu.Unlock()

	cancel()
	for _, unsubscribe := range unsubs {
		unsubscribe()
	}
	if offChange != nil {
		offChange()
	}
	s.wg.Wait()
	searchSvc.Close()
	s.entities.Reset()
	s.clearPopulated()
	metrics.ActiveSessions.Dec()
	s.logger.Info("session stopped", "user_id", userID)
}

// Restart is the explicit recovery from a blocked session.
func (s *Service) Restart(ctx context.Context) error {
	s.mu.RLock()
	id := s.identity
	s.mu.RUnlock()
	if id.ID == "" {
		return ErrNotStarted
	}
	s.Stop()
	return s.Start(ctx, id)
}

// Status reports the lifecycle state; the error explains a blocked session.
func (s *Service) Status() (Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status, s.blockErr
}

func (s *Service) Identity() Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

func (s *Service) Ping(ctx context.Context) error {
	return s.docs.Ping(ctx)
}

func orderField(c store.Collection) string {
	switch c {
	case store.CollectionActivity, store.CollectionComments, store.CollectionSnapshots:
		return "created_at"
	default:
		return ""
	}
}

func (s *Service) deliver(c store.Collection, items []store.Entity) {
	s.entities.UpsertAll(c, items)
	if c != store.CollectionThemes || !s.cfg.SeedThemes {
		return
	}
	s.mu.Lock()
	first := !s.themesSeen
	s.themesSeen = true
	ctx := s.ctx
	active := s.status == StatusActive
	s.mu.Unlock()
	if !first || len(items) > 0 || !active {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		written, err := SeedThemes(ctx, s.docs, s.now())
		if err != nil {
			s.logger.Warn("seeding default themes failed", "error", err)
			return
		}
		s.logger.Info("seeded default themes", "count", written)
	}()
}

// block moves an active session to blocked after a subscription failed for
// good. Readers get the error until the session is restarted or stopped.
func (s *Service) block(c store.Collection, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusActive {
		return
	}
	s.status = StatusBlocked
	s.blockErr = fmt.Errorf("%w: %s: %v", ErrBlocked, c, err)
	s.logger.Error("session blocked", "collection", c, "error", err)
}

func (s *Service) onChange(change entitystore.Change) {
	switch change.Collection {
	case store.CollectionOutcomes, store.CollectionMeasures, store.CollectionBets, store.CollectionTasks:
	default:
		return
	}
	s.mu.RLock()
	searchSvc := s.search
	links := make([]*deeplink.Sync, 0, len(s.links))
	for link := range s.links {
		links = append(links, link)
	}
	s.mu.RUnlock()

	if searchSvc != nil {
		searchSvc.Sync(search.Records(s.entities))
	}
	for _, link := range links {
		link.Refresh()
	}
}

func (s *Service) active() (*coordinator.Coordinator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch s.status {
	case StatusActive:
		return s.coord, nil
	case StatusBlocked:
		return nil, s.blockErr
	default:
		return nil, ErrNotStarted
	}
}

// ensureUser creates the principal's user document on first sign-in. The
// role is kept from an existing document; a new user is a viewer unless
// configured as a bootstrap admin or first on an empty store.
func (s *Service) ensureUser(ctx context.Context, id Identity) error {
	doc, err := s.docs.Get(ctx, store.CollectionUsers, id.ID)
	switch {
	case err == nil:
		var user store.User
		if err := json.Unmarshal(doc.Data, &user); err != nil {
			return fmt.Errorf("decode user: %w", err)
		}
		if user.DeletedAt != nil {
			return &store.AccessError{Op: "start", Collection: store.CollectionUsers, ID: id.ID, Reason: "account deleted"}
		}
		if user.DisplayName == id.DisplayName && user.Email == id.Email && user.AvatarURL == id.AvatarURL {
			return nil
		}
		user.ID = id.ID
		user.DisplayName, user.Email, user.AvatarURL = id.DisplayName, id.Email, id.AvatarURL
		user.UpdatedAt = s.now().UTC()
		return s.putUser(ctx, user)
	case errors.Is(err, store.ErrNotFound):
		role := rbac.RoleViewer
		if s.isBootstrapAdmin(id.ID) {
			role = rbac.RoleAdmin
		} else if empty, err := s.collectionEmpty(ctx, store.CollectionUsers); err != nil {
			return err
		} else if empty {
			role = rbac.RoleAdmin
		}
		now := s.now().UTC()
		s.logger.Info("provisioning user", "user_id", id.ID, "role", role)
		return s.putUser(ctx, store.User{
			ID:          id.ID,
			DisplayName: id.DisplayName,
			Email:       id.Email,
			AvatarURL:   id.AvatarURL,
			Role:        role,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	default:
		return err
	}
}

func (s *Service) putUser(ctx context.Context, user store.User) error {
	if err := store.Validate(user); err != nil {
		return badRequest("INVALID_USER", err)
	}
	doc, err := store.Encode(user)
	if err != nil {
		return err
	}
	return s.docs.Put(ctx, store.CollectionUsers, doc)
}

func (s *Service) isBootstrapAdmin(id string) bool {
	for _, admin := range s.cfg.BootstrapAdmins {
		if admin == id {
			return true
		}
	}
	return false
}

// collectionEmpty reads one snapshot of c; the store has no list call.
func (s *Service) collectionEmpty(ctx context.Context, c store.Collection) (bool, error) {
	snapshots := make(chan store.Snapshot, 1)
	cancel, err := s.docs.Subscribe(ctx, c, func(snapshot store.Snapshot) {
		select {
		case snapshots <- snapshot:
		default:
		}
	}, nil)
	if err != nil {
		return false, err
	}
	defer cancel()
	select {
	case snapshot := <-snapshots:
		return len(snapshot.Documents) == 0, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Entities is the live entity store of an active session.
func (s *Service) Entities() (*entitystore.Store, error) {
	if _, err := s.active(); err != nil {
		return nil, err
	}
	return s.entities, nil
}

// Coordinator is the write path of an active session.
func (s *Service) Coordinator() (*coordinator.Coordinator, error) {
	return s.active()
}

// PopulatedBets joins tasks onto bets, recomputed only when either
// collection changed. The result is shared and must not be modified.
func (s *Service) PopulatedBets() ([]compose.PopulatedBet, error) {
	if _, err := s.active(); err != nil {
		return nil, err
	}
	key := [2]uint64{s.entities.Version(store.CollectionBets), s.entities.Version(store.CollectionTasks)}
	s.popMu.Lock()
	defer s.popMu.Unlock()
	if s.populated != nil && key == s.popKey {
		return s.populated, nil
	}
	s.populated = compose.Populate(s.entities.Bets(), s.entities.Tasks())
	s.popKey = key
	return s.populated, nil
}

func (s *Service) clearPopulated() {
	s.popMu.Lock()
	defer s.popMu.Unlock()
	s.populated = nil
	s.popKey = [2]uint64{}
}

// GraphView is a resolved dependency graph plus a column layout.
type GraphView struct {
	*graph.Graph
	Layout map[string]graph.Point `json:"layout"`
}

// ActiveSetForHover is the highlight set for a hovered node; unknown ids
// give the idle set.
func (v *GraphView) ActiveSetForHover(id string, layer graph.Layer) graph.ActiveSet {
	return v.ActiveSet(id, layer)
}

// ResolveGraph builds the outcome, measure, bet and task graph, optionally
// restricted to one owner.
func (s *Service) ResolveGraph(ownerID string) (*GraphView, error) {
	if _, err := s.active(); err != nil {
		return nil, err
	}
	started := time.Now()
	g := graph.Resolve(graph.Input{
		Outcomes: s.entities.Outcomes(),
		Measures: s.entities.Measures(),
		Bets:     s.entities.Bets(),
		Tasks:    s.entities.Tasks(),
		OwnerID:  ownerID,
	})
	metrics.GraphResolveDuration.Observe(time.Since(started).Seconds())
	for _, d := range g.Dangling {
		s.logger.Debug("dangling reference", "id", d.ID, "layer", d.Layer, "ref", d.Ref)
	}
	return &GraphView{Graph: g, Layout: graph.Layout(g, graph.DefaultLayoutOptions())}, nil
}

// DeepLink binds view to a location kept in step with the entity store.
// release detaches it; it is also detached when the session stops.
func (s *Service) DeepLink(view deeplink.View, location string, opts ...deeplink.Option) (link *deeplink.Sync, release func(), err error) {
	if _, err := s.active(); err != nil {
		return nil, nil, err
	}
	link = deeplink.New(s.entities, view, "/", append([]deeplink.Option{deeplink.WithLogger(s.logger)}, opts...)...)
	if err := link.Navigate(location); err != nil {
		return nil, nil, badRequest("INVALID_LOCATION", err)
	}
	s.mu.Lock()
	s.links[link] = struct{}{}
	s.mu.Unlock()
	return link, func() {
		s.mu.Lock()
		delete(s.links, link)
		s.mu.Unlock()
	}, nil
}

// ReapOrphans deletes tasks whose bet no longer exists.
func (s *Service) ReapOrphans(ctx context.Context) (int, error) {
	coord, err := s.active()
	if err != nil {
		return 0, err
	}
	return coord.ReapOrphanTasks(ctx)
}

// Watch calls fn after every entity store change of an active session.
func (s *Service) Watch(fn func(entitystore.Change)) (cancel func(), err error) {
	if _, err := s.active(); err != nil {
		return nil, err
	}
	return s.entities.OnChange(fn), nil
}

func (s *Service) Search(q search.Query) (search.Response, error) {
	if _, err := s.active(); err != nil {
		return search.Response{}, err
	}
	s.mu.RLock()
	searchSvc := s.search
	s.mu.RUnlock()
	return searchSvc.Search(q), nil
}

func (s *Service) Export(ctx context.Context, req export.Request) (*export.Result, error) {
	if _, err := s.active(); err != nil {
		return nil, err
	}
	return export.NewService(s.entities, export.WithDOCXReference(s.cfg.DOCXReference)).Export(ctx, req)
}

// CreateSnapshot archives the current canvas under label.
func (s *Service) CreateSnapshot(ctx context.Context, label string) (store.CanvasSnapshot, error) {
	coord, err := s.active()
	if err != nil {
		return store.CanvasSnapshot{}, err
	}
	canvas, ok := s.entities.Canvas()
	if !ok {
		return store.CanvasSnapshot{}, fmt.Errorf("canvas %s: %w", store.CanvasID, coordinator.ErrNotFound)
	}
	snapshot := store.CanvasSnapshot{ID: util.NewID(""), Label: label, Canvas: canvas}
	if err := coord.Write(ctx, snapshot); err != nil {
		return store.CanvasSnapshot{}, err
	}
	if stored, ok := s.entities.Get(store.CollectionSnapshots, snapshot.ID); ok {
		return stored.(store.CanvasSnapshot), nil
	}
	return snapshot, nil
}

// AddComment attaches a comment to an existing entity.
func (s *Service) AddComment(ctx context.Context, kind store.EntityKind, entityID, body string) (store.Comment, error) {
	coord, err := s.active()
	if err != nil {
		return store.Comment{}, err
	}
	c, err := kind.Collection()
	if err != nil {
		return store.Comment{}, fmt.Errorf("%w: %v", coordinator.ErrInvalid, err)
	}
	if _, ok := s.entities.Get(c, entityID); !ok {
		return store.Comment{}, fmt.Errorf("%s %s: %w", kind, entityID, coordinator.ErrNotFound)
	}
	comment := store.Comment{ID: util.NewID(""), TargetType: kind, TargetID: entityID, Body: body}
	if err := coord.Write(ctx, comment); err != nil {
		return store.Comment{}, err
	}
	if stored, ok := s.entities.Get(store.CollectionComments, comment.ID); ok {
		return stored.(store.Comment), nil
	}
	return comment, nil
}

// GenerateAdvisory asks the generator about a bet and stores the text on
// the bet's advisory field.
func (s *Service) GenerateAdvisory(ctx context.Context, betID string) (string, error) {
	coord, err := s.active()
	if err != nil {
		return "", err
	}
	if s.generator == nil {
		return "", ErrNoGenerator
	}
	bet, ok := s.entities.Bet(betID)
	if !ok {
		return "", fmt.Errorf("bet %s: %w", betID, coordinator.ErrNotFound)
	}
	text, err := s.generator.Generate(ctx, advisoryPrompt(bet, s.entities.TasksFor(betID), s.linkedOutcomes(bet)))
	if err != nil {
		return "", fmt.Errorf("generate advisory: %w", err)
	}
	text = strings.TrimSpace(text)
	if err := coord.SetAdvisory(ctx, betID, text); err != nil {
		return "", err
	}
	return text, nil
}

func (s *Service) linkedOutcomes(bet store.Bet) []store.Outcome {
	var out []store.Outcome
	for _, id := range bet.LinkedOutcomeIDs {
		if o, ok := s.entities.Outcome(id); ok {
			out = append(out, o)
		}
	}
	return out
}

func advisoryPrompt(bet store.Bet, tasks []store.Task, outcomes []store.Outcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Strategic bet: %s\nStage: %s\nProgress: %d%%\n", bet.Title, bet.Stage, bet.Progress)
	if bet.Hypothesis != "" {
		fmt.Fprintf(&b, "Hypothesis: %s\n", bet.Hypothesis)
	}
	for _, o := range outcomes {
		fmt.Fprintf(&b, "Outcome: %s (%s)\n", o.Title, o.Health)
	}
	for _, t := range tasks {
		fmt.Fprintf(&b, "Task: %s (%d%%)\n", t.Title, t.Progress)
	}
	b.WriteString("Give a short, practical recommendation for the team.")
	return b.String()
}

// Role is the principal's stored role.
func (s *Service) Role(ctx context.Context) (rbac.Role, error) {
	s.mu.RLock()
	userID := s.identity.ID
	s.mu.RUnlock()
	if userID == "" {
		return "", ErrNotStarted
	}
	if user, ok := s.entities.User(userID); ok {
		return rbac.Normalize(string(user.Role)), nil
	}
	doc, err := s.docs.Get(ctx, store.CollectionUsers, userID)
	if err != nil {
		return "", err
	}
	var user store.User
	if err := json.Unmarshal(doc.Data, &user); err != nil {
		return "", fmt.Errorf("decode user: %w", err)
	}
	return rbac.Normalize(string(user.Role)), nil
}
