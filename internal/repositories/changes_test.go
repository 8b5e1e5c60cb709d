package repositories

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChangeFeed(t *testing.T) {
	feed := NewChangeFeed()

	var calls []string
	cancelA := feed.Subscribe(func(v uint64) { calls = append(calls, "a") })
	feed.Subscribe(func(v uint64) { calls = append(calls, "b") })

	assert.Equal(t, uint64(1), feed.Publish())
	assert.Equal(t, []string{"a", "b"}, calls)

	cancelA()
	cancelA()
	calls = nil
	assert.Equal(t, uint64(2), feed.Publish())
	assert.Equal(t, []string{"b"}, calls)
	assert.Equal(t, uint64(2), feed.Version())
}

func TestDialectFor(t *testing.T) {
	d, err := DialectFor("sqlite3")
	assert.NoError(t, err)
	assert.Equal(t, DialectSQLite.Name, d.Name)

	d, err = DialectFor("mysql")
	assert.NoError(t, err)
	assert.Equal(t, DialectMySQL.Name, d.Name)

	_, err = DialectFor("postgres")
	assert.Error(t, err)
}
