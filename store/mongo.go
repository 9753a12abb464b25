package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mqwire/mqwire/mqtt"
)

const (
	mongoCollectionName   = "pending_deliveries"
	mongoOperationTimeout = 5 * time.Second
)

type mongoDelivery struct {
	Direction  uint8     `bson:"direction"`
	PacketID   uint16    `bson:"packet_id"`
	Topic      string    `bson:"topic"`
	Payload    []byte    `bson:"payload"`
	QoS        uint8     `bson:"qos"`
	Retain     bool      `bson:"retain"`
	State      uint8     `bson:"state"`
	RetryCount int       `bson:"retry_count"`
	SentAt     time.Time `bson:"sent_at"`
}

// MongoStore is a durable Store backend for deployments that already
// run MongoDB. One document per pending delivery, keyed by
// (client_id, direction, packet_id); the client identifier scopes the
// collection so several clients can share a database.
type MongoStore struct {
	collection *mongo.Collection
	clientID   string
}

// NewMongoStore initializes a store over the named database. The
// caller owns the mongo client's lifecycle; Close does not disconnect
// it.
func NewMongoStore(client *mongo.Client, database, clientID string) (*MongoStore, error) {
	if clientID == "" {
		return nil, errors.New("store: mongo store requires a client identifier")
	}
	collection := client.Database(database).Collection(mongoCollectionName)

	ctx, cancel := context.WithTimeout(context.Background(), mongoOperationTimeout)
	defer cancel()
	_, err := collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "client_id", Value: 1},
			{Key: "direction", Value: 1},
			{Key: "packet_id", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("store: creating delivery index: %w", err)
	}
	return &MongoStore{collection: collection, clientID: clientID}, nil
}

func (ms *MongoStore) filter(key Key) bson.D {
	return bson.D{
		{Key: "client_id", Value: ms.clientID},
		{Key: "direction", Value: key.Direction},
		{Key: "packet_id", Value: key.ID},
	}
}

func (ms *MongoStore) Put(entry *PendingDelivery) error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOperationTimeout)
	defer cancel()

	doc := bson.D{
		{Key: "client_id", Value: ms.clientID},
		{Key: "direction", Value: uint8(entry.Direction)},
		{Key: "packet_id", Value: entry.ID},
		{Key: "topic", Value: entry.Topic},
		{Key: "payload", Value: entry.Payload},
		{Key: "qos", Value: uint8(entry.QoS)},
		{Key: "retain", Value: entry.Retain},
		{Key: "state", Value: uint8(entry.State)},
		{Key: "retry_count", Value: entry.RetryCount},
		{Key: "sent_at", Value: entry.SentAt},
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := ms.collection.ReplaceOne(ctx, ms.filter(entry.Key()), doc, opts); err != nil {
		return fmt.Errorf("store: saving delivery %d: %w", entry.ID, err)
	}
	return nil
}

func (ms *MongoStore) Get(key Key) (*PendingDelivery, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOperationTimeout)
	defer cancel()

	var doc mongoDelivery
	err := ms.collection.FindOne(ctx, ms.filter(key)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("store: loading delivery %d: %w", key.ID, err)
	}
	return doc.delivery(), nil
}

func (ms *MongoStore) Delete(key Key) error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOperationTimeout)
	defer cancel()

	res, err := ms.collection.DeleteOne(ctx, ms.filter(key))
	if err != nil {
		return fmt.Errorf("store: deleting delivery %d: %w", key.ID, err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (ms *MongoStore) List() ([]*PendingDelivery, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOperationTimeout)
	defer cancel()

	cursor, err := ms.collection.Find(ctx, bson.D{
		{Key: "client_id", Value: ms.clientID},
	})
	if err != nil {
		return nil, fmt.Errorf("store: listing deliveries: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*PendingDelivery
	for cursor.Next(ctx) {
		var doc mongoDelivery
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("store: listing deliveries: %w", err)
		}
		entries = append(entries, doc.delivery())
	}
	return entries, cursor.Err()
}

// Close is a no-op; the mongo client is owned by the caller.
func (ms *MongoStore) Close() error {
	return nil
}

func (d *mongoDelivery) delivery() *PendingDelivery {
	return &PendingDelivery{
		ID:         d.PacketID,
		Direction:  Direction(d.Direction),
		Topic:      d.Topic,
		Payload:    d.Payload,
		QoS:        mqtt.QoS(d.QoS),
		Retain:     d.Retain,
		State:      State(d.State),
		RetryCount: d.RetryCount,
		SentAt:     d.SentAt,
	}
}
