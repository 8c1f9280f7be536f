// Пакет mongo — хранилище метаданных в коллекции MongoDB.
// Документ — model.FileEntry с bson-тегами, _id — публичный ID записи.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/bigkaa/goshare/internal/domain/model"
	"github.com/bigkaa/goshare/internal/storage/meta"
)

// DefaultCollection — имя коллекции записей.
const DefaultCollection = "files"

// Store — хранилище метаданных в MongoDB.
type Store struct {
	coll *mongo.Collection
}

// New создаёт хранилище и индексы коллекции. Клиентом владеет вызывающий код.
func New(ctx context.Context, db *mongo.Database, collection string) (*Store, error) {
	if collection == "" {
		collection = DefaultCollection
	}
	s := &Store{coll: db.Collection(collection)}

	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "expiresAt", Value: 1}}},
		{Keys: bson.D{{Key: "ownerId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "storageKey", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания индексов коллекции %s: %w", collection, err)
	}
	return s, nil
}

func normalize(e *model.FileEntry) *model.FileEntry {
	e.CreatedAt = e.CreatedAt.UTC()
	e.ExpiresAt = e.ExpiresAt.UTC()
	return e
}

// Create сохраняет новую запись.
func (s *Store) Create(ctx context.Context, e *model.FileEntry) error {
	if _, err := s.coll.InsertOne(ctx, e); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", meta.ErrAlreadyExists, e.ID)
		}
		return fmt.Errorf("ошибка создания записи: %w", err)
	}
	return nil
}

// Get возвращает запись по ID.
func (s *Store) Get(ctx context.Context, id string) (*model.FileEntry, error) {
	var e model.FileEntry
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&e); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", meta.ErrNotFound, id)
		}
		return nil, fmt.Errorf("ошибка получения записи: %w", err)
	}
	return normalize(&e), nil
}

func buildFilter(f meta.Filter) bson.M {
	filter := bson.M{}
	if f.OwnerID != "" {
		filter["ownerId"] = f.OwnerID
	}
	if f.AnonymousOnly {
		// Совпадает и с отсутствующим полем, и с null
		filter["ownerId"] = nil
	}
	if !f.ActiveAt.IsZero() {
		filter["expiresAt"] = bson.M{"$gte": f.ActiveAt}
	}
	return filter
}

// List возвращает страницу записей и общее количество.
func (s *Store) List(ctx context.Context, f meta.Filter) ([]*model.FileEntry, int, error) {
	filter := buildFilter(f)

	total, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта записей: %w", err)
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}
	if f.Offset > 0 {
		opts.SetSkip(int64(f.Offset))
	}

	items, err := s.find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	return items, int(total), nil
}

// IncrementDownloads атомарно увеличивает счётчик через $inc.
func (s *Store) IncrementDownloads(ctx context.Context, id string) (int64, error) {
	var e model.FileEntry
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$inc": bson.M{"downloadCount": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&e)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, fmt.Errorf("%w: %s", meta.ErrNotFound, id)
		}
		return 0, fmt.Errorf("ошибка обновления счётчика: %w", err)
	}
	return e.DownloadCount, nil
}

// Delete удаляет запись. Отсутствие записи ошибкой не считается.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("ошибка удаления записи: %w", err)
	}
	return nil
}

// ListExpired возвращает просроченные записи, старые первыми.
func (s *Store) ListExpired(ctx context.Context, now time.Time, limit int) ([]*model.FileEntry, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "expiresAt", Value: 1}}).
		SetLimit(int64(limit))
	return s.find(ctx, bson.M{"expiresAt": bson.M{"$lte": now}}, opts)
}

func (s *Store) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*model.FileEntry, error) {
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки записей: %w", err)
	}
	defer cur.Close(ctx)

	var entries []*model.FileEntry
	if err := cur.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("ошибка декодирования записей: %w", err)
	}
	for _, e := range entries {
		normalize(e)
	}
	return entries, nil
}

// Ping проверяет доступность MongoDB.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.coll.Database().Client().Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("MongoDB недоступна: %w", err)
	}
	return nil
}

// Close ничего не делает: клиентом владеет вызывающий код.
func (s *Store) Close() error {
	return nil
}
