package store

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/HMasataka/chatrelay/internal/config"
	"github.com/HMasataka/chatrelay/pkg/domain"
	"github.com/HMasataka/chatrelay/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	usersCollection    = "users"
	messagesCollection = "messages"
)

type replyDoc struct {
	MessageID any    `bson:"messageId,omitempty"`
	Content   string `bson:"content"`
	Sender    any    `bson:"sender,omitempty"`
}

type messageDoc struct {
	ID             primitive.ObjectID `bson:"_id"`
	Sender         any                `bson:"sender"`
	Receiver       any                `bson:"receiver,omitempty"`
	Content        string             `bson:"content"`
	IsGroupMessage bool               `bson:"isGroupMessage"`
	ReplyTo        *replyDoc          `bson:"replyTo,omitempty"`
	Timestamp      time.Time          `bson:"timestamp"`
	CreatedAt      time.Time          `bson:"createdAt"`
	UpdatedAt      time.Time          `bson:"updatedAt"`
}

type userDoc struct {
	IsSuspended        bool `bson:"isSuspended"`
	IsBlockedFromGroup bool `bson:"isBlockedFromGroup"`
}

// Mongo stores messages in the messages collection and reads moderation
// flags from the users collection. Senders must exist.
type Mongo struct {
	client   *mongo.Client
	users    *mongo.Collection
	messages *mongo.Collection
	now      func() time.Time
}

// NewMongo connects to MongoDB and verifies the connection.
func NewMongo(ctx context.Context, cfg config.MongoConfig) (*Mongo, error) {
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "MONGO_CONNECT", "failed to connect to MongoDB")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "MONGO_PING", "failed to ping MongoDB")
	}

	return newMongo(client, client.Database(cfg.Database)), nil
}

func newMongo(client *mongo.Client, db *mongo.Database) *Mongo {
	return &Mongo{
		client:   client,
		users:    db.Collection(usersCollection),
		messages: db.Collection(messagesCollection),
		now:      time.Now,
	}
}

func (m *Mongo) SaveMessage(ctx context.Context, draft domain.Draft) (domain.Message, error) {
	var sender userDoc
	err := m.users.FindOne(ctx, bson.M{"_id": userKey(draft.SenderID)}).Decode(&sender)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return domain.Message{}, ErrSenderNotFound()
	}
	if err != nil {
		return domain.Message{}, errors.Wrap(err, errors.ErrorTypeInternal, domain.CodePersistenceFailed, "failed to load sender")
	}

	if err := checkModeration(draft, sender.IsSuspended, sender.IsBlockedFromGroup); err != nil {
		return domain.Message{}, err
	}

	now := m.now().UTC()
	doc := messageDoc{
		ID:             primitive.NewObjectID(),
		Sender:         userKey(draft.SenderID),
		Content:        draft.Content,
		IsGroupMessage: draft.IsGroup(),
		Timestamp:      now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if !draft.IsGroup() {
		doc.Receiver = userKey(draft.ReceiverID)
	}
	if draft.ReplyTo != nil {
		doc.ReplyTo = &replyDoc{
			MessageID: objectKey(draft.ReplyTo.MessageID),
			Content:   draft.ReplyTo.Content,
			Sender:    userKey(draft.ReplyTo.SenderID),
		}
	}

	if _, err := m.messages.InsertOne(ctx, doc); err != nil {
		return domain.Message{}, errors.Wrap(err, errors.ErrorTypeInternal, domain.CodePersistenceFailed, "failed to insert message")
	}

	return domain.Message{
		ID:         doc.ID.Hex(),
		SenderID:   draft.SenderID,
		ReceiverID: draft.ReceiverID,
		Content:    draft.Content,
		ReplyTo:    draft.ReplyTo,
		CreatedAt:  now,
	}, nil
}

func (m *Mongo) SetSuspended(ctx context.Context, userID domain.UserID, suspended bool) error {
	return m.setFlag(ctx, userID, "isSuspended", suspended)
}

func (m *Mongo) SetBlockedFromGroup(ctx context.Context, userID domain.UserID, blocked bool) error {
	return m.setFlag(ctx, userID, "isBlockedFromGroup", blocked)
}

func (m *Mongo) setFlag(ctx context.Context, userID domain.UserID, field string, value bool) error {
	res, err := m.users.UpdateOne(ctx,
		bson.M{"_id": userKey(userID)},
		bson.M{"$set": bson.M{field: value}},
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "MONGO_UPDATE", "failed to update user").WithDetails(field)
	}
	if res.MatchedCount == 0 {
		return errUserNotFound(userID)
	}
	return nil
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// userKey maps a user id to its _id value: an ObjectID when the id is one,
// the raw string otherwise.
func userKey(id domain.UserID) any {
	return objectKey(string(id))
}

func objectKey(id string) any {
	if id == "" {
		return nil
	}
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}
