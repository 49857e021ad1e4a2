package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Logical buckets. Annotated images live in the thumbnails bucket under the
// annotated/ prefix.
const (
	BucketRawImages        = "raw-images"
	BucketThumbnails       = "thumbnails"
	BucketCrops            = "crops"
	BucketProjectImages    = "project-images"
	BucketProjectDocuments = "project-documents"

	AnnotatedPrefix = "annotated/"
)

var allBuckets = []string{
	BucketRawImages, BucketThumbnails, BucketCrops, BucketProjectImages, BucketProjectDocuments,
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Store wraps the MinIO client with the bucket layout and path conventions.
type Store struct {
	client *minio.Client
}

// New connects and ensures all logical buckets exist.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	s := &Store{client: client}
	for _, bucket := range allBuckets {
		exists, err := client.BucketExists(ctx, bucket)
		if err != nil {
			return nil, fmt.Errorf("bucket check %s: %w", bucket, err)
		}
		if !exists {
			if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
				return nil, fmt.Errorf("bucket create %s: %w", bucket, err)
			}
			log.Printf("[Storage] created bucket %s", bucket)
		}
	}
	return s, nil
}

// CameraBlobPath is the canonical camera blob layout:
// {camera_serial}/{YYYY}/{MM}/{image_uuid}_{filename}. The UUID prefix
// prevents filename collisions across cameras.
func CameraBlobPath(cameraSerial string, capturedAt time.Time, imageID uuid.UUID, filename string) string {
	return path.Join(
		cameraSerial,
		capturedAt.UTC().Format("2006"),
		capturedAt.UTC().Format("01"),
		fmt.Sprintf("%s_%s", imageID, filename),
	)
}

// AnnotatedPath is annotated/{image_uuid}.jpg inside the thumbnails bucket.
func AnnotatedPath(imageID uuid.UUID) string {
	return AnnotatedPrefix + imageID.String() + ".jpg"
}

func (s *Store) Put(ctx context.Context, bucket, objectPath string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, bucket, objectPath,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, objectPath, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, bucket, objectPath string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, bucket, objectPath, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, objectPath, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", bucket, objectPath, err)
	}
	return data, nil
}

// Reader streams an object; the caller must Close it.
func (s *Store) Reader(ctx context.Context, bucket, objectPath string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, bucket, objectPath, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("open %s/%s: %w", bucket, objectPath, err)
	}
	return obj, nil
}

// Delete is idempotent: removing a missing object is not an error.
func (s *Store) Delete(ctx context.Context, bucket, objectPath string) error {
	err := s.client.RemoveObject(ctx, bucket, objectPath, minio.RemoveObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
			return nil
		}
		return fmt.Errorf("delete %s/%s: %w", bucket, objectPath, err)
	}
	return nil
}

// List returns object paths under a prefix.
func (s *Store) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	var out []string
	for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		out = append(out, obj.Key)
	}
	return out, nil
}

// PublicURL builds the http(s) URL of an object for notification attachments.
func (s *Store) PublicURL(bucket, objectPath string) string {
	return s.client.EndpointURL().String() + "/" + bucket + "/" + objectPath
}
