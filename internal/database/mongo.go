package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names match the ones the original node service wrote to, so its
// message history can be read as is. Its accounts stored plaintext passwords
// and will not pass bcrypt verification.
const (
	accountsCollection       = "users"
	roomMessagesCollection   = "groupmessages"
	directMessagesCollection = "privatemessages"

	mongoConnectTimeout = 10 * time.Second
)

type accountDoc struct {
	Username  string    `bson:"username"`
	FirstName string    `bson:"firstname"`
	LastName  string    `bson:"lastname"`
	Password  string    `bson:"password"`
	CreatedOn time.Time `bson:"createon"`
}

// Seq is assigned on insert and orders messages that share a date_sent.
type roomMessageDoc struct {
	Id       string             `bson:"_id"`
	Seq      primitive.ObjectID `bson:"seq,omitempty"`
	FromUser string             `bson:"from_user"`
	Room     string             `bson:"room"`
	Message  string             `bson:"message"`
	DateSent time.Time          `bson:"date_sent"`
}

type directMessageDoc struct {
	Id       string             `bson:"_id"`
	Seq      primitive.ObjectID `bson:"seq,omitempty"`
	FromUser string             `bson:"from_user"`
	ToUser   string             `bson:"to_user"`
	Message  string             `bson:"message"`
	DateSent time.Time          `bson:"date_sent"`
}

type MongoChatRepository struct {
	client         *mongo.Client
	accounts       *mongo.Collection
	roomMessages   *mongo.Collection
	directMessages *mongo.Collection
}

var _ ChatRepository = (*MongoChatRepository)(nil)

func NewMongoChatRepository(uri, database string) (*MongoChatRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := client.Database(database)
	return &MongoChatRepository{
		client:         client,
		accounts:       db.Collection(accountsCollection),
		roomMessages:   db.Collection(roomMessagesCollection),
		directMessages: db.Collection(directMessagesCollection),
	}, nil
}

// EnsureIndexes creates the unique username index and the history indexes.
func (db *MongoChatRepository) EnsureIndexes(ctx context.Context) error {
	if _, err := db.accounts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("create %s index: %w", accountsCollection, err)
	}

	if _, err := db.roomMessages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "room", Value: 1}, {Key: "date_sent", Value: 1}, {Key: "seq", Value: 1}},
	}); err != nil {
		return fmt.Errorf("create %s index: %w", roomMessagesCollection, err)
	}

	if _, err := db.directMessages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "from_user", Value: 1}, {Key: "to_user", Value: 1}, {Key: "date_sent", Value: 1}, {Key: "seq", Value: 1}},
	}); err != nil {
		return fmt.Errorf("create %s index: %w", directMessagesCollection, err)
	}

	return nil
}

func (db *MongoChatRepository) Ping(ctx context.Context) error {
	return db.client.Ping(ctx, nil)
}

func (db *MongoChatRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	defer cancel()
	return db.client.Disconnect(ctx)
}

func (db *MongoChatRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (User, error) {
	doc := accountDoc{
		Username:  params.Username,
		FirstName: params.FirstName,
		LastName:  params.LastName,
		Password:  params.PasswordHash,
		CreatedOn: time.Now().UTC(),
	}

	if _, err := db.accounts.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return User{}, fmt.Errorf("%w: %s", ErrDuplicateUsername, params.Username)
		}
		return User{}, err
	}

	return doc.toUser(), nil
}

func (db *MongoChatRepository) GetAccountByUsername(ctx context.Context, username string) (User, error) {
	var doc accountDoc
	err := db.accounts.FindOne(ctx, bson.M{"username": username}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}

	return doc.toUser(), nil
}

func (db *MongoChatRepository) CreateRoomMessage(ctx context.Context, msg RoomMessage) error {
	_, err := db.roomMessages.InsertOne(ctx, newRoomMessageDoc(msg))
	return err
}

func (db *MongoChatRepository) CreateDirectMessage(ctx context.Context, msg DirectMessage) error {
	_, err := db.directMessages.InsertOne(ctx, newDirectMessageDoc(msg))
	return err
}

func (db *MongoChatRepository) GetRoomMessages(ctx context.Context, room string, limit int) ([]RoomMessage, error) {
	cursor, err := db.roomMessages.Find(ctx, bson.M{"room": room}, oldestFirst(limit))
	if err != nil {
		return nil, fmt.Errorf("find room messages: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []roomMessageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode room messages: %w", err)
	}

	messages := make([]RoomMessage, 0, len(docs))
	for _, doc := range docs {
		messages = append(messages, doc.toRoomMessage())
	}

	return messages, nil
}

func (db *MongoChatRepository) GetDirectMessages(ctx context.Context, userA, userB string, limit int) ([]DirectMessage, error) {
	filter := bson.M{
		"$or": bson.A{
			bson.M{"from_user": userA, "to_user": userB},
			bson.M{"from_user": userB, "to_user": userA},
		},
	}

	cursor, err := db.directMessages.Find(ctx, filter, oldestFirst(limit))
	if err != nil {
		return nil, fmt.Errorf("find direct messages: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []directMessageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode direct messages: %w", err)
	}

	messages := make([]DirectMessage, 0, len(docs))
	for _, doc := range docs {
		messages = append(messages, doc.toDirectMessage())
	}

	return messages, nil
}

// oldestFirst selects the first limit documents in insertion order.
func oldestFirst(limit int) *options.FindOptions {
	return options.Find().
		SetSort(bson.D{{Key: "date_sent", Value: 1}, {Key: "seq", Value: 1}}).
		SetLimit(int64(HistoryLimit(limit)))
}

func newRoomMessageDoc(msg RoomMessage) roomMessageDoc {
	return roomMessageDoc{
		Id:       msg.Id,
		Seq:      primitive.NewObjectID(),
		FromUser: msg.FromUser,
		Room:     msg.Room,
		Message:  msg.Message,
		DateSent: msg.DateSent,
	}
}

func (d roomMessageDoc) toRoomMessage() RoomMessage {
	return RoomMessage{
		Id:       d.Id,
		FromUser: d.FromUser,
		Room:     d.Room,
		Message:  d.Message,
		DateSent: d.DateSent,
	}
}

func newDirectMessageDoc(msg DirectMessage) directMessageDoc {
	return directMessageDoc{
		Id:       msg.Id,
		Seq:      primitive.NewObjectID(),
		FromUser: msg.FromUser,
		ToUser:   msg.ToUser,
		Message:  msg.Message,
		DateSent: msg.DateSent,
	}
}

func (d directMessageDoc) toDirectMessage() DirectMessage {
	return DirectMessage{
		Id:       d.Id,
		FromUser: d.FromUser,
		ToUser:   d.ToUser,
		Message:  d.Message,
		DateSent: d.DateSent,
	}
}

func (d accountDoc) toUser() User {
	return User{
		Username:     d.Username,
		FirstName:    d.FirstName,
		LastName:     d.LastName,
		PasswordHash: d.Password,
		CreatedAt:    d.CreatedOn,
	}
}
