// Пакет gridfs — Blob Store поверх MongoDB GridFS.
// Ключ содержимого используется как _id файла в бакете.
package gridfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/bigkaa/goshare/internal/storage/blob"
)

// DefaultBucket — имя бакета GridFS по умолчанию.
const DefaultBucket = "uploads"

// Store — хранилище содержимого в GridFS.
type Store struct {
	db     *mongo.Database
	bucket *gridfs.Bucket
	logger *slog.Logger
}

// fileDoc — документ коллекции {bucket}.files.
type fileDoc struct {
	ID         string    `bson:"_id"`
	Length     int64     `bson:"length"`
	UploadDate time.Time `bson:"uploadDate"`
}

// New создаёт Store на базе данных db. Клиент MongoDB создаётся
// и закрывается вызывающим кодом.
func New(db *mongo.Database, bucketName string, logger *slog.Logger) (*Store, error) {
	if bucketName == "" {
		bucketName = DefaultBucket
	}
	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().SetName(bucketName))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания GridFS бакета %s: %w", bucketName, err)
	}
	return &Store{
		db:     db,
		bucket: bucket,
		logger: logger.With(slog.String("component", "blob_gridfs")),
	}, nil
}

// Put записывает поток в GridFS. При ошибке загрузка прерывается,
// уже записанные чанки удаляются драйвером.
func (s *Store) Put(ctx context.Context, key string, r io.Reader) (blob.PutResult, error) {
	us, err := s.bucket.OpenUploadStreamWithID(key, key)
	if err != nil {
		return blob.PutResult{}, fmt.Errorf("ошибка открытия потока загрузки GridFS: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = us.SetWriteDeadline(deadline)
	}

	size, err := io.Copy(us, blob.ContextReader(ctx, r))
	if err != nil {
		if abortErr := us.Abort(); abortErr != nil {
			s.logger.Warn("Не удалось прервать загрузку GridFS",
				slog.String("key", key),
				slog.String("error", abortErr.Error()),
			)
		}
		return blob.PutResult{}, fmt.Errorf("ошибка записи данных в GridFS: %w", err)
	}

	if err := us.Close(); err != nil {
		return blob.PutResult{}, fmt.Errorf("ошибка завершения загрузки GridFS: %w", err)
	}

	return blob.PutResult{Key: key, Size: size}, nil
}

// Open открывает поток чтения из GridFS.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, blob.Info, error) {
	ds, err := s.bucket.OpenDownloadStream(key)
	if err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil, blob.Info{}, fmt.Errorf("%w: %s", blob.ErrNotFound, key)
		}
		return nil, blob.Info{}, fmt.Errorf("ошибка открытия потока GridFS %s: %w", key, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = ds.SetReadDeadline(deadline)
	}

	f := ds.GetFile()
	return ds, blob.Info{Key: key, Size: f.Length, ModTime: f.UploadDate}, nil
}

// Delete удаляет файл и его чанки. Отсутствие файла ошибкой не считается.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.bucket.DeleteContext(ctx, key)
	if err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
		return fmt.Errorf("ошибка удаления из GridFS %s: %w", key, err)
	}
	return nil
}

// Stat читает документ файла без загрузки чанков.
func (s *Store) Stat(ctx context.Context, key string) (blob.Info, error) {
	cur, err := s.bucket.FindContext(ctx, bson.M{"_id": key})
	if err != nil {
		return blob.Info{}, fmt.Errorf("ошибка поиска в GridFS %s: %w", key, err)
	}
	defer cur.Close(ctx)

	if !cur.Next(ctx) {
		if err := cur.Err(); err != nil {
			return blob.Info{}, fmt.Errorf("ошибка поиска в GridFS %s: %w", key, err)
		}
		return blob.Info{}, fmt.Errorf("%w: %s", blob.ErrNotFound, key)
	}

	var doc fileDoc
	if err := cur.Decode(&doc); err != nil {
		return blob.Info{}, fmt.Errorf("ошибка декодирования документа GridFS: %w", err)
	}
	return blob.Info{Key: doc.ID, Size: doc.Length, ModTime: doc.UploadDate}, nil
}

// List обходит все файлы бакета.
func (s *Store) List(ctx context.Context, fn func(blob.Info) error) error {
	cur, err := s.bucket.FindContext(ctx, bson.M{})
	if err != nil {
		return fmt.Errorf("ошибка обхода GridFS: %w", err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var doc fileDoc
		if err := cur.Decode(&doc); err != nil {
			// Файлы с нестроковым _id загружены не этим сервисом
			continue
		}
		if err := fn(blob.Info{Key: doc.ID, Size: doc.Length, ModTime: doc.UploadDate}); err != nil {
			return err
		}
	}
	return cur.Err()
}

// Ping проверяет доступность MongoDB.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, readpref.Primary())
}
