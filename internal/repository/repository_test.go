package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"foodlabel-analyzer/internal/knowledge"
	"foodlabel-analyzer/internal/model"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	return db, mock
}

func TestAnalysisRepositoryCreate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAnalysisRepository(db)

	mock.ExpectExec("INSERT INTO `analysis_records`").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(&model.AnalysisRecord{
		ID:          "0b6b8f3e-1111-4c1e-9d5e-2a7b9c1d0e4f",
		ProductName: "Choco Bar",
		Kind:        model.AnalysisKindIngredients,
		Citations:   []string{"ref-a"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAnalysisRepositoryListByProduct(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAnalysisRepository(db)

	rows := sqlmock.NewRows([]string{"id", "product_name", "kind", "result", "citations", "created_at"}).
		AddRow("id-1", "Choco Bar", "ingredients", "Sugar: bad\n", `["ref-a","ref-b"]`, time.Now())
	mock.ExpectQuery("SELECT \\* FROM `analysis_records` WHERE product_name = \\?").
		WillReturnRows(rows)

	list, err := repo.ListByProduct("Choco Bar", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []string{"ref-a", "ref-b"}, list[0].Citations)
	assert.Equal(t, "Sugar: bad\n", list[0].Result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepositoryGetByNameNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewProductRepository(db)

	mock.ExpectQuery("SELECT \\* FROM `products` WHERE product_name = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	p, err := repo.GetByName("Missing")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestProductRepositoryGetByName(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewProductRepository(db)

	rows := sqlmock.NewRows([]string{"id", "brand_name", "product_name", "ingredients", "claims"}).
		AddRow(1, "Acme", "Choco Bar", `[{"name":"Sugar"},{"name":"Palm Oil"}]`, `["Low fat"]`)
	mock.ExpectQuery("SELECT \\* FROM `products` WHERE product_name = \\?").
		WillReturnRows(rows)

	p, err := repo.GetByName("Choco Bar")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, []string{"Sugar", "Palm Oil"}, p.IngredientNames())
	assert.Equal(t, []string{"Low fat"}, p.Claims)
}

func TestProductRepositorySearch(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewProductRepository(db)

	mock.ExpectQuery("SELECT \\* FROM `products` WHERE \\(product_name LIKE \\? OR brand_name LIKE \\?\\)").
		WillReturnRows(sqlmock.NewRows([]string{"id", "product_name"}).AddRow(1, "Choco Bar").AddRow(2, "Choco Milk"))

	list, err := repo.Search("Choco", 5)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestKnowledgeBaseRepositoryTracking(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewKnowledgeBaseRepository(db)
	ctx := context.Background()
	h := knowledge.Handle{AssistantID: "asst_1", VectorStoreID: "vs_1", FileIDs: []string{"file_1"}}

	mock.ExpectExec("INSERT INTO `knowledge_bases`").
		WillReturnResult(sqlmock.NewResult(7, 1))
	require.NoError(t, repo.Track(ctx, "Sugar", h))

	mock.ExpectQuery("SELECT \\* FROM `knowledge_bases` WHERE created_at < \\?").
		WillReturnRows(sqlmock.NewRows([]string{"id", "assistant_id", "vector_store_id", "file_ids", "ingredient", "created_at"}).
			AddRow(7, "asst_1", "vs_1", `["file_1"]`, "Sugar", time.Now().Add(-2*time.Hour)))
	stale, err := repo.ListBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []knowledge.Handle{h}, stale)

	mock.ExpectExec("DELETE FROM `knowledge_bases` WHERE assistant_id = \\?").
		WithArgs("asst_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Untrack(ctx, h))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepositoryUpsert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewProductRepository(db)

	mock.ExpectExec("INSERT INTO `products` .* ON DUPLICATE KEY UPDATE").
		WillReturnResult(sqlmock.NewResult(3, 1))

	p := &model.Product{
		BrandName:   "Acme",
		ProductName: "Choco Bar",
		Ingredients: []model.Ingredient{{Name: "Sugar"}},
		Claims:      []string{"Low fat"},
	}
	require.NoError(t, repo.Upsert(p))
	assert.Equal(t, uint(3), p.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
