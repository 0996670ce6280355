package storage

import (
	"bytes"
	"context"
	"fmt"
	"log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/pace-noge/defense-probe/internal/domain"
	"github.com/pace-noge/defense-probe/internal/export"
)

// Store implements domain.ArtifactStore on a MinIO/S3 bucket.
type Store struct {
	client     *minio.Client
	bucketName string
}

// New connects to MinIO and makes sure the bucket exists.
func New(ctx context.Context, endpoint, bucket, accessKey, secretKey string, useSSL bool) (*Store, error) {
	cli, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := cli.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
		}
		log.Printf("Created artifact bucket %s", bucket)
	}
	return &Store{client: cli, bucketName: bucket}, nil
}

// Put uploads data under key and returns the object URL.
func (s *Store) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucketName, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}
	// public URL; private buckets need a presigned URL instead
	return fmt.Sprintf("%s/%s/%s", s.client.EndpointURL().String(), s.bucketName, key), nil
}

// Exporter is a result sink that uploads each result's JSON and timeline.
type Exporter struct {
	store domain.ArtifactStore
}

// NewExporter wraps an artifact store.
func NewExporter(store domain.ArtifactStore) *Exporter {
	return &Exporter{store: store}
}

// Save implements domain.ResultSink.
func (e *Exporter) Save(ctx context.Context, r *domain.TestResult) error {
	artifacts, err := export.ResultArtifacts(r)
	if err != nil {
		return err
	}
	for _, a := range artifacts {
		url, err := e.store.Put(ctx, a.Key, a.ContentType, a.Data)
		if err != nil {
			return err
		}
		log.Printf("Exported artifact for test %s: %s", r.TestID, url)
	}
	return nil
}
