package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"donorledger/pkg/db/option"
)

type widget struct {
	ID    string `gorm:"column:id;primaryKey"`
	Name  string `gorm:"column:name;uniqueIndex"`
	Count int64  `gorm:"column:count"`
}

func newDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&widget{}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return db
}

func TestFindOneReturnsNilOnMiss(t *testing.T) {
	repo := ProvideStore[widget](newDB(t))

	got, err := repo.FindOne(context.Background(), &widget{ID: "missing"})
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestCreateAndFindOne(t *testing.T) {
	repo := ProvideStore[widget](newDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &widget{ID: "w-1", Name: "first", Count: 3}))

	got, err := repo.FindOne(ctx, &widget{ID: "w-1"})
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "first", got.Name)
}

func TestCreateTranslatesDuplicateKey(t *testing.T) {
	repo := ProvideStore[widget](newDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &widget{ID: "w-1", Name: "same"}))

	err := repo.Create(ctx, &widget{ID: "w-2", Name: "same"})
	require.Error(t, err)
	require.True(t, errors.Is(err, gorm.ErrDuplicatedKey))
}

func TestUpdateByID(t *testing.T) {
	repo := ProvideStore[widget](newDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &widget{ID: "w-1", Name: "before", Count: 1}))
	require.NoError(t, repo.Update(ctx, "w-1", map[string]any{"count": gorm.Expr("count + ?", 4)}))

	got, err := repo.FindOne(ctx, &widget{ID: "w-1"})
	require.NoError(t, err)
	require.Equal(t, int64(5), got.Count)
}

func TestFindWithOperatorAndSort(t *testing.T) {
	repo := ProvideStore[widget](newDB(t))
	ctx := context.Background()

	require.NoError(t, repo.BatchCreate(ctx, []*widget{
		{ID: "w-1", Name: "a", Count: 1},
		{ID: "w-2", Name: "b", Count: 5},
		{ID: "w-3", Name: "c", Count: 9},
	}))

	got, err := repo.Find(ctx, &widget{},
		option.ApplyOperator(option.Condition{Field: "count", Operator: option.GT, Value: 1}),
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "count",
			OrderBy: "desc",
			Allow:   map[string]bool{"count": true},
		}),
	)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "c", got[0].Name)
	require.Equal(t, "b", got[1].Name)
}

func TestWithTrxRollback(t *testing.T) {
	db := newDB(t)
	repo := ProvideStore[widget](db)
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := repo.WithTrx(tx).Create(ctx, &widget{ID: "w-1", Name: "rolled"}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	n, err := repo.Count(ctx, &widget{})
	require.NoError(t, err)
	require.Zero(t, n)
}
