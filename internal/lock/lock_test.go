package lock

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireFirstAttempt(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	m := NewManager(rdb, 30*time.Second, 10*time.Millisecond, time.Second)

	mock.Regexp().ExpectSetNX("lock:seat:7", `.+`, 30*time.Second).SetVal(true)

	l, err := m.Acquire(context.Background(), "seat:7")
	require.NoError(t, err)
	assert.Equal(t, "lock:seat:7", l.Key())
	assert.NotEmpty(t, l.token)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireContentionThenSuccess(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	m := NewManager(rdb, 30*time.Second, time.Millisecond, time.Second)

	mock.Regexp().ExpectSetNX("lock:seat:7", `.+`, 30*time.Second).SetVal(false)
	mock.Regexp().ExpectSetNX("lock:seat:7", `.+`, 30*time.Second).SetVal(true)

	l, err := m.Acquire(context.Background(), "seat:7")
	require.NoError(t, err)
	assert.Equal(t, "lock:seat:7", l.key)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireTimeout(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	// maxWait of zero exhausts the budget after the first contended attempt.
	m := NewManager(rdb, 30*time.Second, 10*time.Millisecond, 0)

	mock.Regexp().ExpectSetNX("lock:seat:7", `.+`, 30*time.Second).SetVal(false)

	_, err := m.Acquire(context.Background(), "seat:7")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseOwned(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	m := NewManager(rdb, 30*time.Second, 10*time.Millisecond, time.Second)
	l := &Lock{m: m, key: "lock:seat:7", token: "tok-1"}

	mock.ExpectEvalSha(releaseScript.Hash(), []string{"lock:seat:7"}, "tok-1").SetVal(int64(1))

	ok, err := l.Release(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseAfterOwnershipLost(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	m := NewManager(rdb, 30*time.Second, 10*time.Millisecond, time.Second)
	l := &Lock{m: m, key: "lock:seat:7", token: "tok-1"}

	// Another owner holds the key now: compare-and-delete is a no-op.
	mock.ExpectEvalSha(releaseScript.Hash(), []string{"lock:seat:7"}, "tok-1").SetVal(int64(0))

	ok, err := l.Release(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExtendOwned(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	m := NewManager(rdb, 30*time.Second, 10*time.Millisecond, time.Second)
	l := &Lock{m: m, key: "lock:seat:7", token: "tok-1"}

	mock.ExpectEvalSha(extendScript.Hash(), []string{"lock:seat:7"}, "tok-1", int64(30000)).SetVal(int64(1))

	ok, err := l.Extend(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireAllSortsKeys(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	m := NewManager(rdb, 30*time.Second, 10*time.Millisecond, time.Second)

	// Input deliberately unsorted; expectations are ordered, so this
	// fails unless acquisition happens in lexicographic order.
	mock.Regexp().ExpectSetNX("lock:seat:1", `.+`, 30*time.Second).SetVal(true)
	mock.Regexp().ExpectSetNX("lock:seat:5", `.+`, 30*time.Second).SetVal(true)
	mock.Regexp().ExpectSetNX("lock:seat:9", `.+`, 30*time.Second).SetVal(true)

	ml, err := m.AcquireAll(context.Background(), []string{"seat:9", "seat:1", "seat:5"})
	require.NoError(t, err)
	assert.Len(t, ml.locks, 3)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireAllRollsBackOnFailure(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	m := NewManager(rdb, 30*time.Second, 10*time.Millisecond, 0)

	mock.Regexp().ExpectSetNX("lock:seat:1", `.+`, 30*time.Second).SetVal(true)
	// Second key is contended and the zero max-wait budget gives up at
	// once; the first lock must then be released.
	mock.Regexp().ExpectSetNX("lock:seat:9", `.+`, 30*time.Second).SetVal(false)
	mock.Regexp().ExpectEvalSha(releaseScript.Hash(), []string{"lock:seat:1"}, `.+`).SetVal(int64(1))

	_, err := m.AcquireAll(context.Background(), []string{"seat:9", "seat:1"})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.NoError(t, mock.ExpectationsWereMet())
}
