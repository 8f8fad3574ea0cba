package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDirectConversationIDIsOrderIndependent(t *testing.T) {
	assert.Equal(t, DirectConversationID("userA", "userB"), DirectConversationID("userB", "userA"))
	assert.Equal(t, "dm:userA:userB", DirectConversationID("userB", "userA"))
}

func TestParticipants(t *testing.T) {
	a, b, ok := Participants("dm:userA:userB")
	assert.True(t, ok)
	assert.Equal(t, "userA", a)
	assert.Equal(t, "userB", b)

	for _, bad := range []string{"", "general", "dm:userA", "dm::userB", "room:a:b"} {
		_, _, ok := Participants(bad)
		assert.False(t, ok, "id %q", bad)
	}
}

func TestCounterpartID(t *testing.T) {
	id := DirectConversationID("userA", "userB")
	assert.Equal(t, "userB", CounterpartID(id, "userA"))
	assert.Equal(t, "userA", CounterpartID(id, "userB"))
	assert.Equal(t, "", CounterpartID(id, "intruder"))
}

func TestIsProvisionalID(t *testing.T) {
	assert.True(t, IsProvisionalID("tmp-123"))
	assert.False(t, IsProvisionalID("123"))
	assert.False(t, IsProvisionalID(""))
}
