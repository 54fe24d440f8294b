package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"truefeedback/pkg/domain"
)

const (
	mongoAccountsCollection = "accounts"
	mongoUsernameIndex      = "username_unique"
	mongoEmailIndex         = "email_unique"
)

// accountDocument embeds the account's messages in insertion order.
type accountDocument struct {
	ID                  string            `bson:"_id"`
	Username            string            `bson:"username"`
	Email               string            `bson:"email"`
	PasswordHash        string            `bson:"passwordHash"`
	VerifyCode          string            `bson:"verifyCode"`
	VerifyCodeExpiry    time.Time         `bson:"verifyCodeExpiry"`
	IsVerified          bool              `bson:"isVerified"`
	IsAcceptingMessages bool              `bson:"isAcceptingMessages"`
	Messages            []messageDocument `bson:"messages"`
	CreatedAt           time.Time         `bson:"createdAt"`
	UpdatedAt           time.Time         `bson:"updatedAt"`
}

type messageDocument struct {
	ID        string    `bson:"_id"`
	Content   string    `bson:"content"`
	CreatedAt time.Time `bson:"createdAt"`
}

// MongoStore implements Store with one document per account.
type MongoStore struct {
	client   *mongo.Client
	accounts *mongo.Collection
}

// NewMongoStore connects, pings and ensures unique indexes.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, errors.New("mongo uri required")
	}
	if strings.TrimSpace(database) == "" {
		database = "truefeedback"
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	s := newMongoStore(client.Database(database).Collection(mongoAccountsCollection))
	s.client = client
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func newMongoStore(coll *mongo.Collection) *MongoStore {
	return &MongoStore{accounts: coll}
}

// Close disconnects the underlying client.
func (s *MongoStore) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.accounts.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true).SetName(mongoUsernameIndex)},
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetName(mongoEmailIndex)},
	})
	if err != nil {
		return fmt.Errorf("create mongo indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) CreateAccount(ctx context.Context, acct domain.Account) error {
	doc := accountToDocument(acct)
	if _, err := s.accounts.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			switch {
			case strings.Contains(err.Error(), mongoUsernameIndex):
				return ErrDuplicateUsername
			case strings.Contains(err.Error(), mongoEmailIndex):
				return ErrDuplicateEmail
			}
		}
		return err
	}
	return nil
}

func (s *MongoStore) GetAccountByID(ctx context.Context, id string) (domain.Account, bool, error) {
	return s.findAccount(ctx, bson.D{{Key: "_id", Value: id}})
}

func (s *MongoStore) GetAccountByUsername(ctx context.Context, username string) (domain.Account, bool, error) {
	return s.findAccount(ctx, bson.D{{Key: "username", Value: username}})
}

func (s *MongoStore) GetAccountByEmail(ctx context.Context, email string) (domain.Account, bool, error) {
	return s.findAccount(ctx, bson.D{{Key: "email", Value: email}})
}

func (s *MongoStore) findAccount(ctx context.Context, filter bson.D) (domain.Account, bool, error) {
	var doc accountDocument
	opts := options.FindOne().SetProjection(bson.D{{Key: "messages", Value: 0}})
	if err := s.accounts.FindOne(ctx, filter, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Account{}, false, nil
		}
		return domain.Account{}, false, err
	}
	return accountFromDocument(doc), true, nil
}

func (s *MongoStore) MarkVerified(ctx context.Context, id string) error {
	return s.setFields(ctx, id, bson.D{{Key: "isVerified", Value: true}})
}

func (s *MongoStore) SetAcceptingMessages(ctx context.Context, id string, accepting bool) error {
	return s.setFields(ctx, id, bson.D{{Key: "isAcceptingMessages", Value: accepting}})
}

func (s *MongoStore) setFields(ctx context.Context, id string, fields bson.D) error {
	fields = append(fields, bson.E{Key: "updatedAt", Value: time.Now().UTC()})
	res, err := s.accounts.UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, bson.D{{Key: "$set", Value: fields}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessageIfAccepting pushes only when the gate filter matches, so the
// check and the append are one document update.
func (s *MongoStore) AppendMessageIfAccepting(ctx context.Context, username string, msg domain.Message) error {
	filter := bson.D{
		{Key: "username", Value: username},
		{Key: "isAcceptingMessages", Value: true},
	}
	update := bson.D{{Key: "$push", Value: bson.D{{Key: "messages", Value: messageDocument{
		ID:        msg.ID,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}}}}}
	res, err := s.accounts.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}
	// Nothing matched: tell a missing recipient apart from a closed gate.
	_, ok, err := s.findAccount(ctx, bson.D{{Key: "username", Value: username}})
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return ErrNotAccepting
}

func (s *MongoStore) ListMessages(ctx context.Context, accountID string) ([]domain.Message, error) {
	var doc accountDocument
	opts := options.FindOne().SetProjection(bson.D{{Key: "messages", Value: 1}})
	if err := s.accounts.FindOne(ctx, bson.D{{Key: "_id", Value: accountID}}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(doc.Messages))
	for _, m := range doc.Messages {
		msgs = append(msgs, domain.Message{ID: m.ID, Content: m.Content, CreatedAt: m.CreatedAt.UTC()})
	}
	return sortNewestFirst(msgs), nil
}

// DeleteMessage pulls the message only from a document that still holds it.
func (s *MongoStore) DeleteMessage(ctx context.Context, accountID, messageID string) error {
	filter := bson.D{
		{Key: "_id", Value: accountID},
		{Key: "messages._id", Value: messageID},
	}
	update := bson.D{{Key: "$pull", Value: bson.D{{Key: "messages", Value: bson.D{{Key: "_id", Value: messageID}}}}}}
	res, err := s.accounts.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func accountToDocument(a domain.Account) accountDocument {
	return accountDocument{
		ID:                  a.ID,
		Username:            a.Username,
		Email:               a.Email,
		PasswordHash:        a.PasswordHash,
		VerifyCode:          a.VerifyCode,
		VerifyCodeExpiry:    a.VerifyCodeExpiry,
		IsVerified:          a.IsVerified,
		IsAcceptingMessages: a.IsAcceptingMessages,
		Messages:            []messageDocument{},
		CreatedAt:           a.CreatedAt,
		UpdatedAt:           a.UpdatedAt,
	}
}

func accountFromDocument(d accountDocument) domain.Account {
	return domain.Account{
		ID:                  d.ID,
		Username:            d.Username,
		Email:               d.Email,
		PasswordHash:        d.PasswordHash,
		VerifyCode:          d.VerifyCode,
		VerifyCodeExpiry:    d.VerifyCodeExpiry.UTC(),
		IsVerified:          d.IsVerified,
		IsAcceptingMessages: d.IsAcceptingMessages,
		CreatedAt:           d.CreatedAt.UTC(),
		UpdatedAt:           d.UpdatedAt.UTC(),
	}
}
