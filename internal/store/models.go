package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/rbac"
)

// Collection names a remote collection of documents.
type Collection string

const (
	CollectionUsers     Collection = "users"
	CollectionThemes    Collection = "themes"
	CollectionOutcomes  Collection = "outcomes"
	CollectionMeasures  Collection = "measures"
	CollectionBets      Collection = "bets"
	CollectionTasks     Collection = "tasks"
	CollectionComments  Collection = "comments"
	CollectionSessions  Collection = "rhythm_sessions"
	CollectionSnapshots Collection = "canvas_snapshots"
	CollectionActivity  Collection = "activity_logs"
	CollectionCanvas    Collection = "canvas"
)

// CanvasID is the id of the singleton canvas document.
const CanvasID = "c1"

func AllCollections() []Collection {
	return []Collection{
		CollectionUsers,
		CollectionThemes,
		CollectionOutcomes,
		CollectionMeasures,
		CollectionBets,
		CollectionTasks,
		CollectionComments,
		CollectionSessions,
		CollectionSnapshots,
		CollectionActivity,
		CollectionCanvas,
	}
}

func (c Collection) Valid() bool {
	switch c {
	case CollectionUsers, CollectionThemes, CollectionOutcomes, CollectionMeasures, CollectionBets,
		CollectionTasks, CollectionComments, CollectionSessions, CollectionSnapshots, CollectionActivity,
		CollectionCanvas:
		return true
	default:
		return false
	}
}

// Entity is implemented by every collection document type.
type Entity interface {
	EntityID() string
	EntityCollection() Collection
}

// EntityKind is the closed set of entity types a comment or an activity
// record may point at.
type EntityKind string

const (
	KindTheme   EntityKind = "theme"
	KindOutcome EntityKind = "outcome"
	KindMeasure EntityKind = "measure"
	KindBet     EntityKind = "bet"
	KindTask    EntityKind = "task"
	KindCanvas  EntityKind = "canvas"
	KindSession EntityKind = "session"
	KindUser    EntityKind = "user"
)

func (k EntityKind) Valid() bool {
	_, err := k.Collection()
	return err == nil
}

// Collection maps a kind to the collection holding it.
func (k EntityKind) Collection() (Collection, error) {
	switch k {
	case KindTheme:
		return CollectionThemes, nil
	case KindOutcome:
		return CollectionOutcomes, nil
	case KindMeasure:
		return CollectionMeasures, nil
	case KindBet:
		return CollectionBets, nil
	case KindTask:
		return CollectionTasks, nil
	case KindCanvas:
		return CollectionCanvas, nil
	case KindSession:
		return CollectionSessions, nil
	case KindUser:
		return CollectionUsers, nil
	default:
		return "", fmt.Errorf("unknown entity kind %q", string(k))
	}
}

// KindOf returns the kind stored in collection c, if it has one.
func KindOf(c Collection) (EntityKind, bool) {
	switch c {
	case CollectionThemes:
		return KindTheme, true
	case CollectionOutcomes:
		return KindOutcome, true
	case CollectionMeasures:
		return KindMeasure, true
	case CollectionBets:
		return KindBet, true
	case CollectionTasks:
		return KindTask, true
	case CollectionCanvas:
		return KindCanvas, true
	case CollectionSessions:
		return KindSession, true
	case CollectionUsers:
		return KindUser, true
	case CollectionComments, CollectionSnapshots, CollectionActivity:
		return "", false
	default:
		return "", false
	}
}

type HealthStatus string

const (
	HealthGreen  HealthStatus = "green"
	HealthYellow HealthStatus = "yellow"
	HealthRed    HealthStatus = "red"
)

type BetStage string

const (
	StageBacklog   BetStage = "backlog"
	StageExploring BetStage = "exploring"
	StageActive    BetStage = "active"
	StagePaused    BetStage = "paused"
	StageCompleted BetStage = "completed"
	StageKilled    BetStage = "killed"
)

type ActivityType string

const (
	ActivityCreated   ActivityType = "created"
	ActivityUpdated   ActivityType = "updated"
	ActivityDeleted   ActivityType = "deleted"
	ActivityRollup    ActivityType = "progress_rollup"
	ActivityCommented ActivityType = "commented"
	ActivitySnapshot  ActivityType = "snapshot_created"
	ActivityAdvisory  ActivityType = "advisory_generated"
)

type User struct {
	ID          string     `json:"id" validate:"required"`
	DisplayName string     `json:"display_name"`
	Email       string     `json:"email" validate:"omitempty,email"`
	AvatarURL   string     `json:"avatar_url,omitempty"`
	Role        rbac.Role  `json:"role" validate:"oneof=admin editor viewer"`
	ThemeIDs    []string   `json:"theme_ids,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

type Theme struct {
	ID          string     `json:"id" validate:"required"`
	Name        string     `json:"name" validate:"required"`
	Color       string     `json:"color" validate:"omitempty,hexcolor"`
	Description string     `json:"description,omitempty"`
	OwnerIDs    []string   `json:"owner_ids,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`
}

type Outcome struct {
	ID          string       `json:"id" validate:"required"`
	ThemeID     string       `json:"theme_id"`
	Title       string       `json:"title" validate:"required"`
	Description string       `json:"description,omitempty"`
	Health      HealthStatus `json:"health" validate:"oneof=green yellow red"`
	OwnerIDs    []string     `json:"owner_ids,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	ArchivedAt  *time.Time   `json:"archived_at,omitempty"`
}

type Measure struct {
	ID        string    `json:"id" validate:"required"`
	OutcomeID string    `json:"outcome_id,omitempty"`
	Name      string    `json:"name" validate:"required"`
	Unit      string    `json:"unit,omitempty"`
	Baseline  float64   `json:"baseline"`
	Target    float64   `json:"target"`
	Current   float64   `json:"current"`
	OwnerIDs  []string  `json:"owner_ids,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Bet progress is derived from its tasks once it has any; see compose.Rollup.
type Bet struct {
	ID               string     `json:"id" validate:"required"`
	ThemeID          string     `json:"theme_id"`
	Title            string     `json:"title" validate:"required"`
	Description      string     `json:"description,omitempty"`
	Hypothesis       string     `json:"hypothesis,omitempty"`
	Stage            BetStage   `json:"stage" validate:"oneof=backlog exploring active paused completed killed"`
	Progress         int        `json:"progress" validate:"gte=0,lte=100"`
	LinkedOutcomeIDs []string   `json:"linked_outcome_ids,omitempty"`
	LinkedMeasureIDs []string   `json:"linked_measure_ids,omitempty"`
	OwnerIDs         []string   `json:"owner_ids,omitempty"`
	Advisory         string     `json:"advisory,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	ArchivedAt       *time.Time `json:"archived_at,omitempty"`
}

type Task struct {
	ID        string     `json:"id" validate:"required"`
	BetID     string     `json:"bet_id" validate:"required"`
	Title     string     `json:"title" validate:"required"`
	Progress  int        `json:"progress" validate:"oneof=0 25 50 75 100"`
	OwnerID   string     `json:"owner_id,omitempty"`
	DueDate   *time.Time `json:"due_date,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type Comment struct {
	ID         string     `json:"id" validate:"required"`
	TargetType EntityKind `json:"entity_type" validate:"required"`
	TargetID   string     `json:"entity_id" validate:"required"`
	AuthorID   string     `json:"author_id" validate:"required"`
	Body       string     `json:"body" validate:"required"`
	CreatedAt  time.Time  `json:"created_at"`
}

type RhythmSession struct {
	ID          string     `json:"id" validate:"required"`
	Title       string     `json:"title" validate:"required"`
	Cadence     string     `json:"cadence" validate:"omitempty,oneof=weekly biweekly monthly quarterly"`
	NextAt      *time.Time `json:"next_at,omitempty"`
	AttendeeIDs []string   `json:"attendee_ids,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`
}

// Canvas is the singleton strategy canvas (id CanvasID).
type Canvas struct {
	ID        string            `json:"id" validate:"required,eq=c1"`
	Purpose   string            `json:"purpose,omitempty"`
	Vision    string            `json:"vision,omitempty"`
	Sections  map[string]string `json:"sections,omitempty"`
	UpdatedBy string            `json:"updated_by,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// CanvasSnapshot is an immutable archive of the canvas at a point in time.
type CanvasSnapshot struct {
	ID        string    `json:"id" validate:"required"`
	Label     string    `json:"label"`
	Canvas    Canvas    `json:"canvas"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

type ActivityLog struct {
	ID         string       `json:"id" validate:"required"`
	Type       ActivityType `json:"type" validate:"required"`
	TargetType EntityKind   `json:"entity_type,omitempty"`
	TargetID   string       `json:"entity_id,omitempty"`
	ActorID    string       `json:"actor_id,omitempty"`
	Summary    string       `json:"summary,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

func (u User) EntityID() string                     { return u.ID }
func (User) EntityCollection() Collection           { return CollectionUsers }
func (t Theme) EntityID() string                    { return t.ID }
func (Theme) EntityCollection() Collection          { return CollectionThemes }
func (o Outcome) EntityID() string                  { return o.ID }
func (Outcome) EntityCollection() Collection        { return CollectionOutcomes }
func (m Measure) EntityID() string                  { return m.ID }
func (Measure) EntityCollection() Collection        { return CollectionMeasures }
func (b Bet) EntityID() string                      { return b.ID }
func (Bet) EntityCollection() Collection            { return CollectionBets }
func (t Task) EntityID() string                     { return t.ID }
func (Task) EntityCollection() Collection           { return CollectionTasks }
func (c Comment) EntityID() string                  { return c.ID }
func (Comment) EntityCollection() Collection        { return CollectionComments }
func (s RhythmSession) EntityID() string            { return s.ID }
func (RhythmSession) EntityCollection() Collection  { return CollectionSessions }
func (c Canvas) EntityID() string                   { return c.ID }
func (Canvas) EntityCollection() Collection         { return CollectionCanvas }
func (s CanvasSnapshot) EntityID() string           { return s.ID }
func (CanvasSnapshot) EntityCollection() Collection { return CollectionSnapshots }
func (a ActivityLog) EntityID() string              { return a.ID }
func (ActivityLog) EntityCollection() Collection    { return CollectionActivity }

// Document is the wire form of an entity: its id plus the JSON body.
type Document struct {
	ID   string
	Data json.RawMessage
}

// Snapshot is the full content of one collection as of commit Seq.
type Snapshot struct {
	Collection Collection
	Seq        uint64
	Documents  []Document
}

// Encode marshals an entity into its document form.
func Encode(e Entity) (Document, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return Document{}, fmt.Errorf("encode %s/%s: %w", e.EntityCollection(), e.EntityID(), err)
	}
	return Document{ID: e.EntityID(), Data: data}, nil
}

// Decode turns a document of collection c into its typed entity. The
// document id always wins over any id inside the body.
func Decode(c Collection, doc Document) (Entity, error) {
	switch c {
	case CollectionUsers:
		return decodeAs[User](c, doc, func(v *User) { v.ID = doc.ID })
	case CollectionThemes:
		return decodeAs[Theme](c, doc, func(v *Theme) { v.ID = doc.ID })
	case CollectionOutcomes:
		return decodeAs[Outcome](c, doc, func(v *Outcome) { v.ID = doc.ID })
	case CollectionMeasures:
		return decodeAs[Measure](c, doc, func(v *Measure) { v.ID = doc.ID })
	case CollectionBets:
		return decodeAs[Bet](c, doc, func(v *Bet) { v.ID = doc.ID })
	case CollectionTasks:
		return decodeAs[Task](c, doc, func(v *Task) { v.ID = doc.ID })
	case CollectionComments:
		return decodeAs[Comment](c, doc, func(v *Comment) { v.ID = doc.ID })
	case CollectionSessions:
		return decodeAs[RhythmSession](c, doc, func(v *RhythmSession) { v.ID = doc.ID })
	case CollectionSnapshots:
		return decodeAs[CanvasSnapshot](c, doc, func(v *CanvasSnapshot) { v.ID = doc.ID })
	case CollectionActivity:
		return decodeAs[ActivityLog](c, doc, func(v *ActivityLog) { v.ID = doc.ID })
	case CollectionCanvas:
		return decodeAs[Canvas](c, doc, func(v *Canvas) { v.ID = doc.ID })
	default:
		return nil, fmt.Errorf("decode: unknown collection %q", string(c))
	}
}

func decodeAs[T Entity](c Collection, doc Document, setID func(*T)) (Entity, error) {
	var value T
	if err := json.Unmarshal(doc.Data, &value); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", c, doc.ID, err)
	}
	setID(&value)
	return value, nil
}
