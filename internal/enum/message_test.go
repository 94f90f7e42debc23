package enum

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageStatus_CanTransition(t *testing.T) {
	// The happy path through the pipeline
	assert.True(t, MessageStatusNew.CanTransition(MessageStatusClassifying))
	assert.True(t, MessageStatusClassifying.CanTransition(MessageStatusDrafting))
	assert.True(t, MessageStatusDrafting.CanTransition(MessageStatusReadyToSend))
	assert.True(t, MessageStatusReadyToSend.CanTransition(MessageStatusSent))
	assert.True(t, MessageStatusReadyToSend.CanTransition(MessageStatusSendFailed))

	// Validation rejection and recovery
	assert.True(t, MessageStatusDrafting.CanTransition(MessageStatusNeedsRedraft))
	assert.True(t, MessageStatusDrafting.CanTransition(MessageStatusEscalate))
	assert.True(t, MessageStatusNeedsRedraft.CanTransition(MessageStatusDrafting))
	assert.True(t, MessageStatusNeedsRedraft.CanTransition(MessageStatusReadyToSend))
	assert.True(t, MessageStatusNeedsRedraft.CanTransition(MessageStatusEscalate))
	// Forced sends skip revalidation
	assert.True(t, MessageStatusNeedsRedraft.CanTransition(MessageStatusSent))
	assert.True(t, MessageStatusNeedsRedraft.CanTransition(MessageStatusSendFailed))

	// No skipping stages, no leaving terminal states
	assert.False(t, MessageStatusNew.CanTransition(MessageStatusDrafting))
	assert.False(t, MessageStatusNew.CanTransition(MessageStatusSent))
	assert.False(t, MessageStatusClassifying.CanTransition(MessageStatusReadyToSend))
	assert.False(t, MessageStatusSent.CanTransition(MessageStatusNew))
	assert.False(t, MessageStatusEscalate.CanTransition(MessageStatusReadyToSend))
	assert.False(t, MessageStatusSendFailed.CanTransition(MessageStatusReadyToSend))
}

func TestMessageStatus_CanTransitionToError(t *testing.T) {
	all := []MessageStatus{
		MessageStatusNew, MessageStatusClassifying, MessageStatusDrafting,
		MessageStatusReadyToSend, MessageStatusNeedsRedraft, MessageStatusSent,
		MessageStatusSendFailed, MessageStatusEscalate, MessageStatusError,
	}
	for _, status := range all {
		assert.True(t, status.CanTransition(MessageStatusError), "from %s", status)
	}
}

func TestMessageStatus_IsSendEligible(t *testing.T) {
	assert.True(t, MessageStatusReadyToSend.IsSendEligible())
	assert.True(t, MessageStatusNeedsRedraft.IsSendEligible())

	assert.False(t, MessageStatusNew.IsSendEligible())
	assert.False(t, MessageStatusDrafting.IsSendEligible())
	assert.False(t, MessageStatusSent.IsSendEligible())
	assert.False(t, MessageStatusEscalate.IsSendEligible())
}

func TestMessageStatus_IsTerminal(t *testing.T) {
	assert.True(t, MessageStatusSent.IsTerminal())
	assert.True(t, MessageStatusSendFailed.IsTerminal())
	assert.True(t, MessageStatusEscalate.IsTerminal())
	assert.True(t, MessageStatusError.IsTerminal())

	assert.False(t, MessageStatusNew.IsTerminal())
	assert.False(t, MessageStatusReadyToSend.IsTerminal())
	assert.False(t, MessageStatusNeedsRedraft.IsTerminal())
}
