package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCoversEveryCollection(t *testing.T) {
	for _, c := range AllCollections() {
		t.Run(string(c), func(t *testing.T) {
			require.True(t, c.Valid())
			entity, err := Decode(c, Document{ID: "x1", Data: json.RawMessage(`{}`)})
			require.NoError(t, err)
			assert.Equal(t, "x1", entity.EntityID())
			assert.Equal(t, c, entity.EntityCollection())
		})
	}
}

func TestDecodeRejectsUnknownCollection(t *testing.T) {
	_, err := Decode(Collection("widgets"), Document{ID: "w", Data: json.RawMessage(`{}`)})
	require.Error(t, err)
}

func TestDecodeDocumentIDWins(t *testing.T) {
	entity, err := Decode(CollectionBets, Document{ID: "bet-1", Data: json.RawMessage(`{"id":"other","title":"Launch","progress":40}`)})
	require.NoError(t, err)
	bet := entity.(Bet)
	assert.Equal(t, "bet-1", bet.ID)
	assert.Equal(t, 40, bet.Progress)
}

func TestEncodeDecodeKeepsForeignKeys(t *testing.T) {
	task := Task{ID: "t1", BetID: "b1", Title: "Ship", Progress: 75, CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	doc, err := Encode(task)
	require.NoError(t, err)
	decoded, err := Decode(CollectionTasks, doc)
	require.NoError(t, err)
	assert.Equal(t, task, decoded)
}

func TestEntityKindCollection(t *testing.T) {
	for _, c := range AllCollections() {
		kind, ok := KindOf(c)
		if !ok {
			continue
		}
		back, err := kind.Collection()
		require.NoError(t, err)
		assert.Equal(t, c, back)
	}
	assert.False(t, EntityKind("widget").Valid())
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		entity  Entity
		wantErr bool
	}{
		{name: "task quarter progress", entity: Task{ID: "t", BetID: "b", Title: "x", Progress: 25}},
		{name: "task odd progress", entity: Task{ID: "t", BetID: "b", Title: "x", Progress: 30}, wantErr: true},
		{name: "task without bet", entity: Task{ID: "t", Title: "x"}, wantErr: true},
		{name: "bet over 100", entity: Bet{ID: "b", Title: "x", Stage: StageActive, Progress: 101}, wantErr: true},
		{name: "bet ok", entity: Bet{ID: "b", Title: "x", Stage: StageActive, Progress: 56}},
		{name: "outcome health", entity: Outcome{ID: "o", Title: "x", Health: "blue"}, wantErr: true},
		{name: "comment kind", entity: Comment{ID: "c", TargetType: "widget", TargetID: "e", AuthorID: "u", Body: "hi"}, wantErr: true},
		{name: "comment ok", entity: Comment{ID: "c", TargetType: KindBet, TargetID: "e", AuthorID: "u", Body: "hi"}},
		{name: "canvas id", entity: Canvas{ID: "c2"}, wantErr: true},
		{name: "user role", entity: User{ID: "u", Role: "owner"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.entity)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCommentAndActivityKeepTargetSeparateFromOwnID(t *testing.T) {
	var _ Entity = Comment{}
	var _ Entity = ActivityLog{}

	comment := Comment{ID: "cm1", TargetType: KindBet, TargetID: "b1", AuthorID: "u1", Body: "ship it"}
	activity := ActivityLog{ID: "a1", Type: ActivityUpdated, TargetType: KindBet, TargetID: "b1"}

	for _, entity := range []Entity{comment, activity} {
		doc, err := Encode(entity)
		require.NoError(t, err)
		assert.Equal(t, entity.EntityID(), doc.ID)
		assert.NotEqual(t, "b1", doc.ID)

		var body map[string]any
		require.NoError(t, json.Unmarshal(doc.Data, &body))
		assert.Equal(t, "b1", body["entity_id"])
		assert.Equal(t, "bet", body["entity_type"])

		decoded, err := Decode(entity.EntityCollection(), doc)
		require.NoError(t, err)
		assert.Equal(t, entity, decoded)
	}
}
