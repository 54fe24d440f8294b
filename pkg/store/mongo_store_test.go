package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
	"truefeedback/pkg/domain"
)

func TestMongoStore(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("create maps duplicate username", func(mt *mtest.T) {
		s := newMongoStore(mt.Coll)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: `E11000 duplicate key error collection: test.accounts index: username_unique dup key: { username: "alice" }`,
		}))
		err := s.CreateAccount(context.Background(), newTestAccount("a1", "alice", "alice@x.com"))
		assert.ErrorIs(mt, err, ErrDuplicateUsername)
	})

	mt.Run("create maps duplicate email", func(mt *mtest.T) {
		s := newMongoStore(mt.Coll)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: `E11000 duplicate key error collection: test.accounts index: email_unique dup key: { email: "alice@x.com" }`,
		}))
		err := s.CreateAccount(context.Background(), newTestAccount("a1", "alice", "alice@x.com"))
		assert.ErrorIs(mt, err, ErrDuplicateEmail)
	})

	mt.Run("append succeeds when gate matches", func(mt *mtest.T) {
		s := newMongoStore(mt.Coll)
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 1},
		))
		err := s.AppendMessageIfAccepting(context.Background(), "alice", domain.Message{ID: "m1", Content: "hi", CreatedAt: time.Now()})
		require.NoError(mt, err)
	})

	mt.Run("append reports closed gate", func(mt *mtest.T) {
		s := newMongoStore(mt.Coll)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}),
			mtest.CreateCursorResponse(0, "test.accounts", mtest.FirstBatch, bson.D{
				{Key: "_id", Value: "a1"},
				{Key: "username", Value: "alice"},
				{Key: "isAcceptingMessages", Value: false},
			}),
		)
		err := s.AppendMessageIfAccepting(context.Background(), "alice", domain.Message{ID: "m1", Content: "hi", CreatedAt: time.Now()})
		assert.ErrorIs(mt, err, ErrNotAccepting)
	})

	mt.Run("append reports unknown recipient", func(mt *mtest.T) {
		s := newMongoStore(mt.Coll)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}),
			mtest.CreateCursorResponse(0, "test.accounts", mtest.FirstBatch),
		)
		err := s.AppendMessageIfAccepting(context.Background(), "ghost", domain.Message{ID: "m1", Content: "hi", CreatedAt: time.Now()})
		assert.ErrorIs(mt, err, ErrNotFound)
	})

	mt.Run("delete twice fails the second time", func(mt *mtest.T) {
		s := newMongoStore(mt.Coll)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}),
		)
		require.NoError(mt, s.DeleteMessage(context.Background(), "a1", "m1"))
		assert.ErrorIs(mt, s.DeleteMessage(context.Background(), "a1", "m1"), ErrMessageNotFound)
	})

	mt.Run("list sorts embedded messages newest first", func(mt *mtest.T) {
		s := newMongoStore(mt.Coll)
		base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "test.accounts", mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "a1"},
			{Key: "messages", Value: bson.A{
				bson.D{{Key: "_id", Value: "m1"}, {Key: "content", Value: "first"}, {Key: "createdAt", Value: base}},
				bson.D{{Key: "_id", Value: "m2"}, {Key: "content", Value: "second"}, {Key: "createdAt", Value: base.Add(time.Minute)}},
			}},
		}))
		msgs, err := s.ListMessages(context.Background(), "a1")
		require.NoError(mt, err)
		require.Len(mt, msgs, 2)
		assert.Equal(mt, "m2", msgs[0].ID)
		assert.Equal(mt, "m1", msgs[1].ID)
	})

	mt.Run("set accepting on missing account", func(mt *mtest.T) {
		s := newMongoStore(mt.Coll)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}))
		assert.ErrorIs(mt, s.SetAcceptingMessages(context.Background(), "missing", false), ErrNotFound)
	})
}
