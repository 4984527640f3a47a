package repository

import (
	"context"
	"testing"

	"github.com/hitoshi/harvester/internal/model"
)

// PostgresPostRepoはPostRepositoryインターフェースを満たすことを検証
func TestPostgresPostRepo_ImplementsInterface(t *testing.T) {
	var _ PostRepository = (*PostgresPostRepo)(nil)
}

// 空のexternal_idリストはDBアクセスなしで空集合を返すことを検証
func TestExistsByExternalIDs_EmptyInput(t *testing.T) {
	repo := NewPostgresPostRepo(nil)

	existing, err := repo.ExistsByExternalIDs(context.Background(), "source-1", nil)
	if err != nil {
		t.Fatalf("ExistsByExternalIDs error = %v", err)
	}
	if len(existing) != 0 {
		t.Errorf("空入力は空集合を返すべき: got %d entries", len(existing))
	}
}

// 空の投稿リストはDBアクセスなしで成功することを検証
func TestSaveMany_EmptyInput(t *testing.T) {
	repo := NewPostgresPostRepo(nil)

	if err := repo.SaveMany(context.Background(), nil); err != nil {
		t.Fatalf("空リストのSaveManyはエラーを返すべきでない: %v", err)
	}
}

// Postモデルのブロックがjsonタグ付きで構築されることを検証
func TestPostModel_Blocks(t *testing.T) {
	post := &model.Post{
		ID:         "post-1",
		SourceID:   "source-1",
		ExternalID: "ext-1",
		Blocks: []model.ContentBlock{
			{Type: model.BlockTypeHeading, Text: "見出し", Level: 2},
			{Type: model.BlockTypeParagraph, Text: "本文"},
		},
	}

	if post.Blocks[0].Type != model.BlockTypeHeading {
		t.Errorf("Blocks[0].Type = %q, want heading", post.Blocks[0].Type)
	}
	if post.Blocks[0].Level != 2 {
		t.Errorf("Blocks[0].Level = %d, want 2", post.Blocks[0].Level)
	}
}
