package tracing

// Span attribute keys.
const (
	AttrCommandID     = "command.id"
	AttrCommandType   = "command.type"
	AttrCommandSource = "command.source"

	AttrArtifactID = "artifact.id"
	AttrActionID   = "action.id"
	AttrActionType = "action.type"
	AttrFilePath   = "file.path"
)

// SpanPrefixCommand prefixes the span of every processed command.
const SpanPrefixCommand = "command.process."

// EventFollowUpCreated is recorded on a span for each follow-up command.
const EventFollowUpCreated = "follow_up.created"
