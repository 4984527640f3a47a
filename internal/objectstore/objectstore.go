// Package objectstore はメディアファイルの永続化先となるオブジェクトストレージを抽象化する。
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectStore はオブジェクトストレージへの書き込みインターフェース。
type ObjectStore interface {
	// Put はオブジェクトを指定キーで保存し、参照用のロケーションを返す。
	Put(ctx context.Context, key string, contentType string, body []byte) (string, error)
}

// S3Store はS3互換ストレージへのObjectStore実装。
type S3Store struct {
	client *s3.Client
	bucket string
}

// S3Options はS3Storeの接続設定。
type S3Options struct {
	Bucket   string
	Region   string
	Endpoint string // MinIO等のS3互換エンドポイント。空の場合はAWS標準。
}

// NewS3Store はS3StoreをAWS標準の認証チェーンで初期化する。
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("バケット名が指定されていません")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("AWS設定の読み込みに失敗: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			// S3互換ストレージはパススタイルのみ対応するものが多い
			o.UsePathStyle = true
		}
	})

	return &S3Store{client: client, bucket: opts.Bucket}, nil
}

// Put はオブジェクトをS3バケットに保存する。
func (s *S3Store) Put(ctx context.Context, key string, contentType string, body []byte) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("S3への保存に失敗: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// MemoryStore はテストおよびバケット未設定時のインメモリObjectStore実装。
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]memoryObject
}

type memoryObject struct {
	contentType string
	body        []byte
}

// NewMemoryStore はMemoryStoreの新しいインスタンスを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

// Put はオブジェクトをメモリ上に保存する。
func (m *MemoryStore) Put(_ context.Context, key string, contentType string, body []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(body))
	copy(stored, body)
	m.objects[key] = memoryObject{contentType: contentType, body: stored}
	return "memory://" + key, nil
}

// Get は保存済みオブジェクトを取得する（テスト用）。
func (m *MemoryStore) Get(key string) ([]byte, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	return obj.body, obj.contentType, ok
}

// Len は保存済みオブジェクト数を返す（テスト用）。
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// インターフェース実装の検証
var (
	_ ObjectStore = (*S3Store)(nil)
	_ ObjectStore = (*MemoryStore)(nil)
)
