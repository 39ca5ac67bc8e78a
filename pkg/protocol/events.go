package protocol

// Event names carried in the "t" field of DISPATCH messages.
//
// Payload schemas are owned entirely by the emitting write path and are
// opaque to the gateway; new event types require no protocol changes.
const (
	// EventReady is sent once, immediately after a connection
	// authenticates, carrying the client's bootstrap state.
	EventReady = "READY"

	EventMessageCreate         = "MESSAGE_CREATE"
	EventMessageUpdate         = "MESSAGE_UPDATE"
	EventMessageDelete         = "MESSAGE_DELETE"
	EventMessageReactionAdd    = "MESSAGE_REACTION_ADD"
	EventMessageReactionRemove = "MESSAGE_REACTION_REMOVE"
	EventPresenceUpdate        = "PRESENCE_UPDATE"
	EventVoiceStateUpdate      = "VOICE_STATE_UPDATE"
	EventPollVoteCreate        = "POLL_VOTE_CREATE"
	EventChannelCreate         = "CHANNEL_CREATE"
	EventDMMessageCreate       = "DM_MESSAGE_CREATE"
)
