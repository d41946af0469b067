package models

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, Migrate(db))
	return db
}

func TestUserName(t *testing.T) {
	assert.Equal(t, "Awa Ndong", User{Username: "awa", DisplayName: "Awa Ndong"}.Name())
	assert.Equal(t, "awa", User{Username: "awa"}.Name())
}

func TestCreateAssignsIDs(t *testing.T) {
	db := openDB(t)
	u := User{Username: "awa", Password: "x"}
	require.NoError(t, db.Create(&u).Error)
	assert.Len(t, u.ID, 36)

	b := Business{OwnerID: u.ID, Name: "Boulangerie"}
	require.NoError(t, db.Create(&b).Error)
	assert.NotEmpty(t, b.ID)

	m := Message{ConversationID: "c1", SenderID: u.ID, Content: "Bonjour", CreatedAt: time.Now()}
	require.NoError(t, db.Create(&m).Error)
	assert.NotEmpty(t, m.ID)

	fixed := Message{ID: "m-1", ConversationID: "c1", SenderID: u.ID, CreatedAt: time.Now()}
	require.NoError(t, db.Create(&fixed).Error)
	assert.Equal(t, "m-1", fixed.ID)
}

func TestMessageDefaults(t *testing.T) {
	db := openDB(t)
	require.NoError(t, db.Create(&Message{ID: "m-1", ConversationID: "c1", SenderID: "u1", Content: "x"}).Error)
	var got Message
	require.NoError(t, db.First(&got, "id = ?", "m-1").Error)
	assert.Equal(t, "text", got.Kind)
	assert.Equal(t, StatusSent, got.Status)
}

func TestReactionsPreload(t *testing.T) {
	db := openDB(t)
	require.NoError(t, db.Create(&Message{ID: "m-1", ConversationID: "c1", SenderID: "u1", Content: "x"}).Error)
	for _, r := range []MessageReaction{
		{MessageID: "m-1", UserID: "u1", Symbol: "👍"},
		{MessageID: "m-1", UserID: "u2", Symbol: "👍"},
	} {
		require.NoError(t, db.Create(&r).Error)
	}
	// The same user cannot react twice with one symbol.
	assert.Error(t, db.Create(&MessageReaction{MessageID: "m-1", UserID: "u1", Symbol: "👍"}).Error)

	var got Message
	require.NoError(t, db.Preload("Reactions").First(&got, "id = ?", "m-1").Error)
	assert.Len(t, got.Reactions, 2)
}

func TestClientTokenIsUniquePerSender(t *testing.T) {
	db := openDB(t)
	tok := "tok-1"
	require.NoError(t, db.Create(&Message{ConversationID: "c1", SenderID: "u1", ClientToken: &tok}).Error)

	err := db.Create(&Message{ConversationID: "c1", SenderID: "u1", ClientToken: &tok}).Error
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)

	// Other senders, other conversations and missing tokens do not collide.
	require.NoError(t, db.Create(&Message{ConversationID: "c1", SenderID: "u2", ClientToken: &tok}).Error)
	require.NoError(t, db.Create(&Message{ConversationID: "c2", SenderID: "u1", ClientToken: &tok}).Error)
	require.NoError(t, db.Create(&Message{ConversationID: "c1", SenderID: "u1"}).Error)
	require.NoError(t, db.Create(&Message{ConversationID: "c1", SenderID: "u1"}).Error)
}

func TestPairKey(t *testing.T) {
	assert.Equal(t, PairKey("a", "b", ""), PairKey("b", "a", ""))
	assert.NotEqual(t, PairKey("a", "b", ""), PairKey("a", "b", "biz"))
}

func TestPairKeyIsUnique(t *testing.T) {
	db := openDB(t)
	key := PairKey("u1", "u2", "")
	require.NoError(t, db.Create(&Conversation{ConversationID: "c1", Type: ConversationPrivate, PairKey: &key}).Error)
	err := db.Create(&Conversation{ConversationID: "c2", Type: ConversationPrivate, PairKey: &key}).Error
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)

	require.NoError(t, db.Create(&Conversation{ConversationID: "g1", Type: ConversationGroup}).Error)
	require.NoError(t, db.Create(&Conversation{ConversationID: "g2", Type: ConversationGroup}).Error)
}

func TestMigrateBackfillsPairKeys(t *testing.T) {
	db := openDB(t)
	biz := "b1"
	require.NoError(t, db.Create(&Conversation{ConversationID: "c1", Type: ConversationPrivate, ParticipantA: "u2", ParticipantB: "u1"}).Error)
	require.NoError(t, db.Create(&Conversation{ConversationID: "c2", Type: ConversationBusiness, ParticipantA: "u1", ParticipantB: "u2", BusinessID: &biz}).Error)
	require.NoError(t, db.Create(&Conversation{ConversationID: "g1", Type: ConversationGroup}).Error)

	require.NoError(t, Migrate(db))
	var got []Conversation
	require.NoError(t, db.Order("conversation_id").Find(&got).Error)
	require.Len(t, got, 3)
	require.NotNil(t, got[0].PairKey)
	assert.Equal(t, PairKey("u1", "u2", ""), *got[0].PairKey)
	require.NotNil(t, got[1].PairKey)
	assert.Equal(t, PairKey("u1", "u2", "b1"), *got[1].PairKey)
	assert.Nil(t, got[2].PairKey)
}
