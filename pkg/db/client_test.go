package db

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/picknest-core/pkg/config"
	"github.com/angelmondragon/picknest-core/pkg/db/dbtest"
	"github.com/angelmondragon/picknest-core/pkg/db/models"
)

func seedAddress(t *testing.T, conn *gorm.DB) models.Address {
	t.Helper()
	addr := models.Address{ClientID: uuid.New(), Line1: "1 Main St", City: "Nairobi", PostalCode: "00100", Country: "KE"}
	require.NoError(t, conn.Create(&addr).Error)
	return addr
}

func TestWithTx_CommitsAndRollbacks(t *testing.T) {
	conn := dbtest.New(t)
	client := Wrap(conn)
	require.Equal(t, config.DBDriverSQLite, client.Dialect())

	ctx := context.Background()
	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&models.Address{ClientID: uuid.New(), Line1: "a", City: "b", PostalCode: "c", Country: "d"}).Error
	})
	require.NoError(t, err)

	var count int64
	require.NoError(t, conn.Model(&models.Address{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	err = client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&models.Address{ClientID: uuid.New(), Line1: "a", City: "b", PostalCode: "c", Country: "d"}).Error; err != nil {
			return err
		}
		return errors.New("boom")
	})
	require.Error(t, err)
	require.NoError(t, conn.Model(&models.Address{}).Count(&count).Error)
	assert.Equal(t, int64(1), count, "rollback should leave a single row")
}

func TestWithTx_RollsBackAndRepanics(t *testing.T) {
	conn := dbtest.New(t)
	client := Wrap(conn)
	existing := seedAddress(t, conn)

	assert.Panics(t, func() {
		_ = client.WithTx(context.Background(), func(tx *gorm.DB) error {
			if err := tx.Model(&models.Address{}).Where("id = ?", existing.ID).Update("city", "Mombasa").Error; err != nil {
				return err
			}
			panic("kaboom")
		})
	})

	var reloaded models.Address
	require.NoError(t, conn.First(&reloaded, "id = ?", existing.ID).Error)
	assert.Equal(t, "Nairobi", reloaded.City)
}

func TestPing(t *testing.T) {
	client := Wrap(dbtest.New(t))
	require.NoError(t, client.Ping(context.Background()))
}

func TestNewRequiresDSN(t *testing.T) {
	_, err := New(context.Background(), config.DBConfig{}, nil)
	require.Error(t, err)
}
