package database

import (
	"testing"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsDuplicateKey(t *testing.T) {
	dup := &mysqldrv.MySQLError{Number: 1062, Message: "Duplicate entry 'x' for key 'uk_sku_store'"}
	assert.True(t, IsDuplicateKey(dup))
	assert.True(t, IsDuplicateKey(errors.Wrap(dup, "create item")))
	assert.True(t, IsDuplicateKey(gorm.ErrDuplicatedKey))

	assert.False(t, IsDuplicateKey(&mysqldrv.MySQLError{Number: 1213, Message: "Deadlock found"}))
	assert.False(t, IsDuplicateKey(errors.New("boom")))
	assert.False(t, IsDuplicateKey(nil))
}
