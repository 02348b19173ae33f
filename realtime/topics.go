package realtime

// Inbound topics with a dedicated handler. Anything else is surfaced as an
// UnknownMessage.
const (
	TopicPushNotification = "/fbns_msg"
	TopicDirectMessage    = "/ig_message"
	TopicPresence         = "/ig_presence"
	TopicTyping           = "/ig_typing"
	TopicActivity         = "/ig_activity"
	TopicMessageSync      = "146"

	// TopicSendDirect is the outbound direct message topic.
	TopicSendDirect = "direct_v2"
)

// Message kinds reported in Message.Kind.
const (
	KindPushNotification = "push_notification"
	KindDirectMessage    = "direct_message"
	KindPresence         = "presence"
	KindTyping           = "typing"
	KindActivity         = "activity"
	KindMessageSync      = "message_sync"
)

var knownTopics = map[string]string{
	TopicPushNotification: KindPushNotification,
	TopicDirectMessage:    KindDirectMessage,
	TopicPresence:         KindPresence,
	TopicTyping:           KindTyping,
	TopicActivity:         KindActivity,
	TopicMessageSync:      KindMessageSync,
}

// TopicKind returns the message kind handled for topic.
func TopicKind(topic string) (string, bool) {
	k, ok := knownTopics[topic]
	return k, ok
}
