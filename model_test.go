package gotxm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_TXState_canMoveTo(t *testing.T) {
	tests := []struct {
		from TXState
		to   TXState
		want bool
	}{
		{from: TXActive, to: TXPreparing, want: true},
		{from: TXActive, to: TXCommitting, want: true},
		{from: TXActive, to: TXAborting, want: true},
		{from: TXActive, to: TXCommitted, want: false},
		{from: TXActive, to: TXAborted, want: false},
		{from: TXPreparing, to: TXPrepared, want: true},
		{from: TXPreparing, to: TXCommitted, want: true},
		{from: TXPreparing, to: TXActive, want: false},
		{from: TXPrepared, to: TXCommitting, want: true},
		{from: TXPrepared, to: TXAborting, want: true},
		{from: TXPrepared, to: TXPreparing, want: false},
		{from: TXCommitting, to: TXCommitted, want: true},
		{from: TXCommitting, to: TXAborting, want: false},
		{from: TXAborting, to: TXAborted, want: true},
		{from: TXAborting, to: TXCommitting, want: false},
		{from: TXAborting, to: TXCommitted, want: false},
		{from: TXCommitted, to: TXAborting, want: false},
		{from: TXAborted, to: TXAborting, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.canMoveTo(tt.to))
		})
	}
}

func Test_TXKey(t *testing.T) {
	internal := InternalKey(42)
	assert.False(t, internal.IsExternal())
	assert.Equal(t, int64(42), internal.ID())
	assert.Equal(t, "42", internal.String())

	external := ExternalKey("order-1")
	assert.True(t, external.IsExternal())
	assert.Equal(t, "order-1", external.XID())
	assert.Equal(t, "xid:order-1", external.String())

	created := &Created{ID: 7}
	assert.Equal(t, InternalKey(7), created.Key())
	created.XID = "order-7"
	assert.Equal(t, ExternalKey("order-7"), created.Key())
}

func Test_TXState_IsTerminal(t *testing.T) {
	for _, state := range []TXState{TXActive, TXPreparing, TXPrepared, TXCommitting, TXAborting} {
		assert.False(t, state.IsTerminal(), state)
	}
	assert.True(t, TXCommitted.IsTerminal())
	assert.True(t, TXAborted.IsTerminal())
}
