package utils

import (
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestStoreDSN(t *testing.T) {
	c, err := storeDSN("user:pass@tcp(db:3306)/auction_db?loc=Local")
	assert.NoError(t, err)
	check.True(t, c.ParseTime)
	check.True(t, c.Loc == time.UTC)
	check.Equal(t, "db:3306", c.Addr)
	check.Equal(t, "auction_db", c.DBName)
}

func TestStoreDSN_Invalid(t *testing.T) {
	_, err := storeDSN("user:pass@tcp(db:3306)")
	check.Error(t, err)

	_, err = storeDSN("user:pass@tcp(db:3306)/")
	check.Error(t, err)
}
