package example

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/xiaoxuxiansheng/gotxm"
	"github.com/xiaoxuxiansheng/redis_lock"
)

func Test_ParticipantRegistry(t *testing.T) {
	registry := NewParticipantRegistry()
	a := NewRedisParticipant("a", 1, &redis_lock.Client{})
	b := NewRedisParticipant("b", 1, &redis_lock.Client{})

	assert.Nil(t, registry.Register(a))
	assert.Nil(t, registry.Register(b))
	assert.NotNil(t, registry.Register(NewRedisParticipant("a", 2, &redis_lock.Client{})))

	participants, err := registry.Participants("b", "a")
	assert.Nil(t, err)
	assert.Equal(t, []gotxm.Participant{b, a}, participants)

	_, err = registry.Participants("a", "c")
	assert.NotNil(t, err)

	got, err := registry.Rehydrate(context.Background(), gotxm.ParticipantInfo{ID: "a", CrashCount: 1})
	assert.Nil(t, err)
	assert.Equal(t, gotxm.Participant(a), got)

	_, err = registry.Rehydrate(context.Background(), gotxm.ParticipantInfo{ID: "missing"})
	assert.NotNil(t, err)
}
