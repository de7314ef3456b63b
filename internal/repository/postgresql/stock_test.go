package postgresql_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"

	mock_database "github.com/tungvs/charity-delivery/internal/db/mocks"
	"github.com/tungvs/charity-delivery/internal/repository"
	"github.com/tungvs/charity-delivery/internal/repository/postgresql"
)

func TestStockRepo_DecrementBatchTx(t *testing.T) {
	ctx := context.Background()

	t.Run("decrements within available quantity", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTx := mock_database.NewMockTx(ctrl)
		repo := postgresql.NewStockRepo(mock_database.NewMockDB(ctrl))

		id := uuid.New()
		mockTx.EXPECT().Exec(gomock.Any(), gomock.Any(), gomock.Eq(id), gomock.Eq(5)).
			Return(pgconn.CommandTag("UPDATE 1"), nil)

		err := repo.DecrementBatchTx(ctx, mockTx, id, 5)
		assert.NoError(t, err)
	})

	t.Run("quantity guard rejects over-draw", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTx := mock_database.NewMockTx(ctrl)
		repo := postgresql.NewStockRepo(mock_database.NewMockDB(ctrl))

		mockTx.EXPECT().Exec(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(pgconn.CommandTag("UPDATE 0"), nil)

		err := repo.DecrementBatchTx(ctx, mockTx, uuid.New(), 100)
		assert.ErrorIs(t, err, repository.ErrObjectNotFound)
	})
}

type scalarRow struct {
	value int
}

func (r scalarRow) Scan(dest ...interface{}) error {
	*dest[0].(*int) = r.value
	return nil
}

func TestStockRepo_Available(t *testing.T) {
	ctx := context.Background()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockDB := mock_database.NewMockDB(ctrl)
	repo := postgresql.NewStockRepo(mockDB)

	branchID, itemID := uuid.New(), uuid.New()
	mockDB.EXPECT().ExecQueryRow(gomock.Any(), gomock.Any(), gomock.Eq(branchID), gomock.Eq(itemID)).
		Return(scalarRow{value: 42})

	qty, err := repo.Available(ctx, branchID, itemID)
	assert.NoError(t, err)
	assert.Equal(t, 42, qty)
}
