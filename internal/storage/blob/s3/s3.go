// Пакет s3 — хранилище содержимого в S3-совместимом объектном хранилище.
// Ключ объекта: {prefix}{key}. Бакет должен существовать заранее.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/bigkaa/goshare/internal/storage/blob"
)

// PartSize — размер части multipart-загрузки (минимум S3 — 5 MiB).
const PartSize = 8 << 20

// Config — параметры подключения.
type Config struct {
	Endpoint     string
	Region       string
	Bucket       string
	Prefix       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// Store — хранилище содержимого в S3.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// NewClient создаёт S3-клиент. Без статических ключей используется
// стандартная цепочка провайдеров AWS (env, профиль, IRSA).
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации AWS: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// New создаёт хранилище и проверяет доступ к бакету.
func New(ctx context.Context, client *s3.Client, bucket, prefix string, logger *slog.Logger) (*Store, error) {
	if bucket == "" {
		return nil, errors.New("не задано имя бакета")
	}
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return nil, fmt.Errorf("бакет %q недоступен: %w", bucket, err)
	}
	return &Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: logger.With(slog.String("component", "blob_s3")),
	}, nil
}

func (s *Store) objectKey(key string) string {
	return s.prefix + key
}

// Put потоково записывает содержимое. Поток до PartSize уходит одним
// PutObject, больший — multipart-загрузкой частями по PartSize.
func (s *Store) Put(ctx context.Context, key string, r io.Reader) (blob.PutResult, error) {
	if !blob.ValidKey(key) {
		return blob.PutResult{}, fmt.Errorf("некорректный ключ содержимого: %q", key)
	}

	r = blob.ContextReader(ctx, r)
	buf := make([]byte, PartSize)
	n, err := io.ReadFull(r, buf)
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return s.putSingle(ctx, key, buf[:n])
	case err != nil:
		return blob.PutResult{}, fmt.Errorf("ошибка чтения потока: %w", err)
	}
	return s.putMultipart(ctx, key, buf, r)
}

func (s *Store) putSingle(ctx context.Context, key string, data []byte) (blob.PutResult, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(key)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return blob.PutResult{}, fmt.Errorf("ошибка записи объекта %s: %w", key, err)
	}
	return blob.PutResult{Key: key, Size: int64(len(data))}, nil
}

// putMultipart загружает первую (уже прочитанную) часть и остаток потока.
// При любой ошибке загрузка отменяется, частичных объектов не остаётся.
func (s *Store) putMultipart(ctx context.Context, key string, first []byte, r io.Reader) (blob.PutResult, error) {
	objKey := s.objectKey(key)
	created, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objKey),
	})
	if err != nil {
		return blob.PutResult{}, fmt.Errorf("ошибка начала multipart-загрузки %s: %w", key, err)
	}
	uploadID := created.UploadId

	abort := func(cause error) (blob.PutResult, error) {
		// Отмена не должна зависеть от уже отменённого контекста запроса
		_, aerr := s.client.AbortMultipartUpload(context.WithoutCancel(ctx), &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(s.bucket),
			Key:      aws.String(objKey),
			UploadId: uploadID,
		})
		if aerr != nil {
			s.logger.Warn("Не удалось отменить multipart-загрузку",
				slog.String("key", key),
				slog.String("error", aerr.Error()),
			)
		}
		return blob.PutResult{}, cause
	}

	var (
		parts []types.CompletedPart
		total int64
		part  = first
	)
	for partNum := int32(1); ; partNum++ {
		out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(objKey),
			UploadId:      uploadID,
			PartNumber:    aws.Int32(partNum),
			Body:          bytes.NewReader(part),
			ContentLength: aws.Int64(int64(len(part))),
		})
		if err != nil {
			return abort(fmt.Errorf("ошибка загрузки части %d объекта %s: %w", partNum, key, err))
		}
		parts = append(parts, types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(partNum)})
		total += int64(len(part))

		buf := make([]byte, PartSize)
		n, rerr := io.ReadFull(r, buf)
		if n == 0 && (errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF)) {
			break
		}
		if rerr != nil && !errors.Is(rerr, io.ErrUnexpectedEOF) {
			return abort(fmt.Errorf("ошибка чтения потока: %w", rerr))
		}
		part = buf[:n]
	}

	_, err = s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(objKey),
		UploadId:        uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return abort(fmt.Errorf("ошибка завершения multipart-загрузки %s: %w", key, err))
	}
	return blob.PutResult{Key: key, Size: total}, nil
}

func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noKey) || errors.As(err, &notFound)
}

// Open открывает объект на чтение.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, blob.Info, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, blob.Info{}, fmt.Errorf("%w: %s", blob.ErrNotFound, key)
		}
		return nil, blob.Info{}, fmt.Errorf("ошибка чтения объекта %s: %w", key, err)
	}
	info := blob.Info{Key: key, Size: aws.ToInt64(out.ContentLength)}
	if out.LastModified != nil {
		info.ModTime = *out.LastModified
	}
	return out.Body, info, nil
}

// Delete удаляет объект. S3 не сообщает об отсутствии объекта.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("ошибка удаления объекта %s: %w", key, err)
	}
	return nil
}

// Stat возвращает сведения об объекте через HeadObject.
func (s *Store) Stat(ctx context.Context, key string) (blob.Info, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return blob.Info{}, fmt.Errorf("%w: %s", blob.ErrNotFound, key)
		}
		return blob.Info{}, fmt.Errorf("ошибка HeadObject %s: %w", key, err)
	}
	info := blob.Info{Key: key, Size: aws.ToInt64(out.ContentLength)}
	if out.LastModified != nil {
		info.ModTime = *out.LastModified
	}
	return info, nil
}

// List обходит объекты под префиксом. Посторонние ключи пропускаются.
func (s *Store) List(ctx context.Context, fn func(blob.Info) error) error {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("ошибка листинга бакета: %w", err)
		}
		for _, obj := range page.Contents {
			key := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			if !blob.ValidKey(key) {
				continue
			}
			info := blob.Info{Key: key, Size: aws.ToInt64(obj.Size)}
			if obj.LastModified != nil {
				info.ModTime = *obj.LastModified
			}
			if err := fn(info); err != nil {
				return err
			}
		}
	}
	return nil
}

// Ping проверяет доступ к бакету.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("бакет %q недоступен: %w", s.bucket, err)
	}
	return nil
}
