package docstore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"snapgram/internal/config"
)

// MongoStore implements Store on MongoDB. Live queries are an initial Find
// followed by a change stream on the collection; transactions ride on
// driver sessions, which already retry transient and conflict aborts.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

func NewMongoStore(c *config.Config) (*MongoStore, error) {
	uri := c.GetMongoURI()
	clientOptions := options.Client().ApplyURI(uri)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return &MongoStore{
		client: client,
		db:     client.Database(c.MongoDB.Database),
	}, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func filterFor(q Query) bson.M {
	if q.Field == "" {
		return bson.M{}
	}
	return bson.M{q.Field: bson.M{"$in": q.In}}
}

func (s *MongoStore) Find(ctx context.Context, q Query) ([]Snapshot, error) {
	cur, err := s.db.Collection(q.Collection).Find(ctx, filterFor(q),
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", q.Collection, err)
	}
	defer cur.Close(ctx)

	var out []Snapshot
	for cur.Next(ctx) {
		raw := bson.Raw(append([]byte(nil), cur.Current...))
		id, ok := raw.Lookup("_id").StringValueOK()
		if !ok {
			continue
		}
		out = append(out, Snapshot{ID: id, raw: raw})
	}
	return out, cur.Err()
}

func (s *MongoStore) Count(ctx context.Context, q Query) (int64, error) {
	return s.db.Collection(q.Collection).CountDocuments(ctx, filterFor(q))
}

func (s *MongoStore) Get(ctx context.Context, key Key, out any) (bool, error) {
	err := s.db.Collection(key.Collection).FindOne(ctx, bson.M{"_id": key.ID}).Decode(out)
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *MongoStore) Set(ctx context.Context, key Key, doc any) error {
	_, err := s.db.Collection(key.Collection).ReplaceOne(ctx,
		bson.M{"_id": key.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

func (s *MongoStore) Delete(ctx context.Context, key Key) error {
	_, err := s.db.Collection(key.Collection).DeleteOne(ctx, bson.M{"_id": key.ID})
	return err
}

// streamEvent is the slice of a change stream document we care about.
type streamEvent struct {
	OperationType string `bson:"operationType"`
	DocumentKey   struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
	FullDocument bson.Raw `bson:"fullDocument"`
}

func (s *MongoStore) Subscribe(ctx context.Context, q Query, onChange ChangeHandler, onError ErrorHandler) (CancelFunc, error) {
	ctx, cancel := context.WithCancel(ctx)

	cs, err := s.db.Collection(q.Collection).Watch(ctx, mongo.Pipeline{},
		options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch %s: %w", q.Collection, err)
	}

	go func() {
		defer cs.Close(context.Background())

		// Initial matching set, then the stream. The stream was opened
		// before the find, so nothing committed in between is lost; at
		// worst a document is delivered twice and the upsert absorbs it.
		initial, err := s.Find(ctx, q)
		if err != nil {
			if ctx.Err() == nil {
				onError(err)
			}
			return
		}
		onChange(Change{Added: initial})

		for cs.Next(ctx) {
			var ev streamEvent
			if err := cs.Decode(&ev); err != nil {
				onError(fmt.Errorf("decode change on %s: %w", q.Collection, err))
				continue
			}
			switch ev.OperationType {
			case "insert", "update", "replace":
				// Deletes carry no document, so predicate filtering
				// happens client-side on the full document.
				if !matches(q, ev.DocumentKey.ID, ev.FullDocument) {
					continue
				}
				raw := bson.Raw(append([]byte(nil), ev.FullDocument...))
				onChange(Change{Added: []Snapshot{{ID: ev.DocumentKey.ID, raw: raw}}})
			case "delete":
				// A delete carries no document, so predicate filtering
				// is only possible when the query is on _id; receivers
				// of other queries filter removals by key themselves.
				if q.Field == "_id" && !matches(q, ev.DocumentKey.ID, nil) {
					continue
				}
				onChange(Change{Removed: []string{ev.DocumentKey.ID}})
			}
		}
		if err := cs.Err(); err != nil && ctx.Err() == nil {
			onError(err)
		}
	}()

	return CancelFunc(cancel), nil
}

func (s *MongoStore) RunTransaction(ctx context.Context, fn func(Tx) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(&mongoTx{db: s.db, ctx: sc})
	})
	return err
}

type mongoTx struct {
	db  *mongo.Database
	ctx mongo.SessionContext
}

func (t *mongoTx) Get(key Key, out any) (bool, error) {
	err := t.db.Collection(key.Collection).FindOne(t.ctx, bson.M{"_id": key.ID}).Decode(out)
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *mongoTx) Set(key Key, doc any) error {
	_, err := t.db.Collection(key.Collection).ReplaceOne(t.ctx,
		bson.M{"_id": key.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

func (t *mongoTx) Delete(key Key) error {
	_, err := t.db.Collection(key.Collection).DeleteOne(t.ctx, bson.M{"_id": key.ID})
	return err
}

func (t *mongoTx) Increment(key Key, field string, delta int64) error {
	res, err := t.db.Collection(key.Collection).UpdateOne(t.ctx,
		bson.M{"_id": key.ID}, bson.M{"$inc": bson.M{field: delta}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
