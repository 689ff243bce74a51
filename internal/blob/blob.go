// Package blob stores drop-off photo evidence in S3-compatible object
// storage and hands out short-lived presigned URLs for the monitor UI.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"time"

	"github.com/google/uuid"
	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
)

type Config struct {
	Endpoint       string
	Region         string
	Bucket         string
	AccessKey      string
	SecretKey      string
	Insecure       bool
	ForcePathStyle bool
	URLTTL         time.Duration
}

type Store struct {
	client *minio.Client
	cfg    Config
}

func New(cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("blob: bucket is required")
	}
	var creds *credentials.Credentials
	if cfg.AccessKey != "" {
		creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	} else {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
			&credentials.IAM{},
		})
	}
	options := &minio.Options{
		Creds:  creds,
		Secure: !cfg.Insecure,
		Region: cfg.Region,
	}
	if cfg.ForcePathStyle {
		options.BucketLookup = minio.BucketLookupPath
	}
	client, err := minio.New(cfg.Endpoint, options)
	if err != nil {
		return nil, errors.Wrap(err, "blob: create client")
	}
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = 15 * time.Minute
	}
	return &Store{client: client, cfg: cfg}, nil
}

// Upload writes the photo under a fresh object name and returns the
// object key kept in the parcel record.
func (s *Store) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = "image/jpeg"
	}
	object := path.Join("evidence", time.Now().UTC().Format("2006/01/02"), uuid.NewString())
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, object,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", errors.Wrap(err, "blob: put object")
	}
	return object, nil
}

// Resolve turns a stored object key into a presigned GET URL.
func (s *Store) Resolve(ctx context.Context, object string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.cfg.Bucket, object, s.cfg.URLTTL, url.Values{})
	if err != nil {
		return "", errors.Wrap(err, "blob: presign object")
	}
	return u.String(), nil
}

// Fetch reads the stored photo back, for the ops API's evidence endpoint.
func (s *Store) Fetch(ctx context.Context, object string) ([]byte, string, error) {
	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", errors.Wrap(err, "blob: get object")
	}
	defer obj.Close()

	stat, err := obj.Stat()
	if err != nil {
		return nil, "", errors.Wrap(err, "blob: stat object")
	}
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(obj); err != nil {
		return nil, "", errors.Wrap(err, "blob: read object")
	}
	return buf.Bytes(), stat.ContentType, nil
}

// CacheKey is the key photo URLs are cached under.
func CacheKey(object string) string {
	return fmt.Sprintf("photo_url:%s", object)
}
