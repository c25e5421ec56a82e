package webhook

import (
	"errors"
	"strconv"
)

// ConversationKind discriminates direct threads from group threads.
type ConversationKind string

const (
	KindDirect ConversationKind = "dm"
	KindGroup  ConversationKind = "group"
)

// Message types. MessageUnknown is reserved for payload shapes the probe does
// not recognize at all (currently only reachable for quoted previews).
const (
	MessageText     = "text"
	MessageImage    = "image"
	MessageAudio    = "audio"
	MessageVideo    = "video"
	MessageDocument = "document"
	MessageSticker  = "sticker"
	MessageUnknown  = "unknown"
)

// Quoted describes the message a reply points at.
type Quoted struct {
	ExternalID string
	Preview    string
	Type       string
	FromMe     bool
}

// Envelope is the provider-agnostic form of a message event. Downstream
// components only ever see this closed struct, never the raw payload.
type Envelope struct {
	ConversationID    string
	Kind              ConversationKind
	SenderID          string
	SenderDigits      string
	AltConversationID string
	ExternalID        string
	FromMe            bool
	DisplayName       string
	TimestampMS       int64
	Type              string
	Text              string
	HasMedia          bool
	Quoted            *Quoted
}

// ErrCannotNormalize means the payload carries no usable conversation
// identifier. Callers treat the event as ignorable, not fatal.
var ErrCannotNormalize = errors.New("payload has no conversation identifier")

// DegradedGroupSender reports the ambiguous case where a group message
// carried no participant and the group id itself stands in as the author.
func (e *Envelope) DegradedGroupSender() bool {
	return e.Kind == KindGroup && e.SenderID == e.ConversationID
}

// Media containers probed in priority order.
var mediaContainers = []struct {
	key  string
	kind string
}{
	{"imageMessage", MessageImage},
	{"videoMessage", MessageVideo},
	{"audioMessage", MessageAudio},
	{"documentMessage", MessageDocument},
	{"stickerMessage", MessageSticker},
}

// Normalize parses a raw message-event payload into an Envelope. Provider
// payloads are inconsistent about field locations, so every field is an
// ordered sequence of extraction attempts returning the first present value.
func Normalize(data map[string]interface{}) (*Envelope, error) {
	key := getMap(data, "key")

	convID := firstString(
		getString(key, "remoteJid"),
		getString(key, "remoteJID"),
		getString(data, "remoteJid"),
		getString(data, "jid"),
		getString(data, "chatId"),
	)
	if convID == "" {
		return nil, ErrCannotNormalize
	}

	env := &Envelope{ConversationID: convID, Kind: KindDirect}

	convJID := ClassifyJID(convID)
	if convJID.Kind == JIDGroup {
		env.Kind = KindGroup
	}

	env.FromMe = getBool(key, "fromMe") || getBool(data, "fromMe")
	env.ExternalID = firstString(getString(key, "id"), getString(data, "messageId"))

	// In a group the true author is the participant, not the group id. A
	// group event without a participant falls back to the group id itself,
	// which DegradedGroupSender surfaces to the caller.
	participant := firstString(getString(key, "participant"), getString(data, "participant"))
	if env.Kind == KindGroup && participant != "" {
		env.SenderID = participant
	} else {
		env.SenderID = convID
	}

	alt := firstString(
		getString(key, "senderPn"),
		getString(key, "remoteJidAlt"),
		getString(data, "senderPn"),
	)
	senderJID := ClassifyJID(env.SenderID)
	altJID := ClassifyJID(alt)
	env.SenderDigits = CanonicalDigits(senderJID, altJID)
	if env.Kind == KindDirect && alt != "" && alt != convID {
		env.AltConversationID = alt
	}

	if !env.FromMe {
		env.DisplayName = firstString(getString(data, "pushName"), getString(data, "senderName"))
	}
	env.TimestampMS = epochMillis(data["messageTimestamp"])

	message := getMap(data, "message")
	env.Type, env.Text, env.HasMedia = probeMessage(message)
	env.Quoted = extractQuoted(message)

	return env, nil
}

// probeMessage inspects the fixed set of payload shape markers in priority
// order and falls back to text.
func probeMessage(message map[string]interface{}) (kind, text string, hasMedia bool) {
	for _, c := range mediaContainers {
		if container := getMap(message, c.key); container != nil {
			return c.kind, getString(container, "caption"), true
		}
	}
	text = firstString(
		getString(message, "conversation"),
		getString(getMap(message, "extendedTextMessage"), "text"),
		getString(message, "text"),
	)
	return MessageText, text, false
}

// extractQuoted digs for the shared context substructure inside any of the
// type-specific containers. No quoted stanza id means "not a reply".
func extractQuoted(message map[string]interface{}) *Quoted {
	candidates := []map[string]interface{}{getMap(message, "extendedTextMessage")}
	for _, c := range mediaContainers {
		candidates = append(candidates, getMap(message, c.key))
	}

	for _, container := range candidates {
		ctx := getMap(container, "contextInfo")
		if ctx == nil {
			continue
		}
		stanza := firstString(getString(ctx, "stanzaId"), getString(ctx, "stanzaID"))
		if stanza == "" {
			continue
		}
		q := &Quoted{ExternalID: stanza, FromMe: getBool(ctx, "fromMe")}
		if quoted := getMap(ctx, "quotedMessage"); quoted != nil {
			q.Type, q.Preview, _ = probeMessage(quoted)
			if q.Preview == "" && q.Type == MessageText && len(quoted) > 0 {
				q.Type = MessageUnknown
			}
		} else {
			q.Type = MessageUnknown
		}
		return q
	}
	return nil
}

// epochMillis normalizes a provider timestamp (seconds or milliseconds,
// number or string) to epoch milliseconds. Returns 0 when absent.
func epochMillis(v interface{}) int64 {
	var n int64
	switch t := v.(type) {
	case float64:
		n = int64(t)
	case int64:
		n = t
	case int:
		n = int64(t)
	case string:
		parsed, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0
		}
		n = parsed
	default:
		return 0
	}
	if n <= 0 {
		return 0
	}
	if n < 1_000_000_000_000 {
		n *= 1000
	}
	return n
}

func getMap(m map[string]interface{}, key string) map[string]interface{} {
	if m == nil {
		return nil
	}
	child, _ := m[key].(map[string]interface{})
	return child
}

func getString(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func getBool(m map[string]interface{}, key string) bool {
	if m == nil {
		return false
	}
	b, _ := m[key].(bool)
	return b
}

func firstString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
