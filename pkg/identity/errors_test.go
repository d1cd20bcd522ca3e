package identity

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

type fakeNetError struct{}

func (fakeNetError) Error() string   { return "connection reset" }
func (fakeNetError) Timeout() bool   { return true }
func (fakeNetError) Temporary() bool { return true }

func TestClassifyStoreError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantTransient bool
	}{
		{
			name:          "deadline exceeded is transient",
			err:           context.DeadlineExceeded,
			wantTransient: true,
		},
		{
			name:          "canceled context is transient",
			err:           context.Canceled,
			wantTransient: true,
		},
		{
			name:          "wrapped deadline is transient",
			err:           fmt.Errorf("query failed: %w", context.DeadlineExceeded),
			wantTransient: true,
		},
		{
			name:          "bad connection is transient",
			err:           driver.ErrBadConn,
			wantTransient: true,
		},
		{
			name:          "closed connection is transient",
			err:           sql.ErrConnDone,
			wantTransient: true,
		},
		{
			name:          "network error is transient",
			err:           fakeNetError{},
			wantTransient: true,
		},
		{
			name:          "connection exception class is transient",
			err:           &pq.Error{Code: "08006"},
			wantTransient: true,
		},
		{
			name:          "insufficient resources class is transient",
			err:           &pq.Error{Code: "53300"},
			wantTransient: true,
		},
		{
			name:          "operator intervention class is transient",
			err:           &pq.Error{Code: "57P03"},
			wantTransient: true,
		},
		{
			name:          "serialization failure is transient",
			err:           &pq.Error{Code: "40001"},
			wantTransient: true,
		},
		{
			name:          "deadlock is transient",
			err:           &pq.Error{Code: "40P01"},
			wantTransient: true,
		},
		{
			name:          "unique violation is permanent",
			err:           &pq.Error{Code: "23505"},
			wantTransient: false,
		},
		{
			name:          "syntax error is permanent",
			err:           &pq.Error{Code: "42601"},
			wantTransient: false,
		},
		{
			name:          "unrecognized error is permanent",
			err:           errors.New("something broke"),
			wantTransient: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := classifyStoreError(tt.err)
			assert.Equal(t, tt.wantTransient, IsTransient(classified))
			assert.Equal(t, !tt.wantTransient, IsPermanent(classified))
			assert.ErrorIs(t, classified, tt.err)
		})
	}
}

func TestClassifyStoreErrorNil(t *testing.T) {
	assert.NoError(t, classifyStoreError(nil))
}

func TestIsTransientOnUnclassifiedError(t *testing.T) {
	assert.False(t, IsTransient(errors.New("raw error")))
	assert.False(t, IsPermanent(errors.New("raw error")))
	assert.False(t, IsTransient(nil))
}
