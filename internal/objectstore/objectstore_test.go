package objectstore

import (
	"context"
	"testing"
)

func TestMemoryStorePut(t *testing.T) {
	store := NewMemoryStore()

	loc, err := store.Put(context.Background(), "media/abc/1.jpg", "image/jpeg", []byte{0xFF, 0xD8})
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if loc != "memory://media/abc/1.jpg" {
		t.Errorf("ロケーションが一致しない: got %q", loc)
	}

	body, contentType, ok := store.Get("media/abc/1.jpg")
	if !ok {
		t.Fatal("保存したオブジェクトが取得できるべき")
	}
	if contentType != "image/jpeg" {
		t.Errorf("Content-Typeが一致しない: got %q", contentType)
	}
	if len(body) != 2 || body[0] != 0xFF {
		t.Errorf("ボディが一致しない: got %v", body)
	}
}

func TestMemoryStoreCopiesBody(t *testing.T) {
	store := NewMemoryStore()
	src := []byte("original")

	if _, err := store.Put(context.Background(), "k", "text/plain", src); err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	src[0] = 'X'

	body, _, _ := store.Get("k")
	if string(body) != "original" {
		t.Errorf("保存後の外部変更から隔離されるべき: got %q", body)
	}
}

func TestNewS3StoreRequiresBucket(t *testing.T) {
	if _, err := NewS3Store(context.Background(), S3Options{}); err == nil {
		t.Error("バケット未指定はエラーを返すべき")
	}
}
