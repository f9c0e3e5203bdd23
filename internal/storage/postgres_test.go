package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPostgresConfigDSN(t *testing.T) {
	cfg := PostgresConfig{
		Host:     "db.internal",
		Port:     5433,
		User:     "docstack",
		Password: "s3cret",
		Database: "docstack",
		SSLMode:  "require",
	}

	assert.Equal(t,
		"host=db.internal port=5433 user=docstack password=s3cret dbname=docstack sslmode=require",
		cfg.dsn(),
	)
}

func TestPostgresConfigPoolDefaults(t *testing.T) {
	t.Run("zero values filled in", func(t *testing.T) {
		cfg := PostgresConfig{}.withPoolDefaults()

		assert.Equal(t, defaultMaxOpenConns, cfg.MaxOpenConns)
		assert.Equal(t, defaultMaxIdleConns, cfg.MaxIdleConns)
		assert.Equal(t, defaultConnLifetime, cfg.MaxLifetime)
	})

	t.Run("explicit values preserved", func(t *testing.T) {
		cfg := PostgresConfig{
			MaxOpenConns: 50,
			MaxIdleConns: 10,
			MaxLifetime:  time.Hour,
		}.withPoolDefaults()

		assert.Equal(t, 50, cfg.MaxOpenConns)
		assert.Equal(t, 10, cfg.MaxIdleConns)
		assert.Equal(t, time.Hour, cfg.MaxLifetime)
	})

	t.Run("negative values treated as unset", func(t *testing.T) {
		cfg := PostgresConfig{MaxOpenConns: -1}.withPoolDefaults()

		assert.Equal(t, defaultMaxOpenConns, cfg.MaxOpenConns)
	})
}
