package webhook

import "strings"

// JIDKind classifies a provider identity string.
type JIDKind int

const (
	JIDUnknown JIDKind = iota
	JIDPhone
	JIDLocal
	JIDGroup
)

func (k JIDKind) String() string {
	switch k {
	case JIDPhone:
		return "phone"
	case JIDLocal:
		return "lid"
	case JIDGroup:
		return "group"
	default:
		return "unknown"
	}
}

// JID is a classified identity. Digits is set only for JIDPhone.
type JID struct {
	Raw    string
	Kind   JIDKind
	Digits string
}

// minPhoneDigits guards against false-positive identity merges: anything
// shorter is demoted to unknown rather than trusted as a phone number.
const minPhoneDigits = 8

// ClassifyJID sorts an opaque identity string into phone, opaque local id,
// group or unknown, extracting canonical digits for phone identities.
func ClassifyJID(raw string) JID {
	j := JID{Raw: strings.TrimSpace(raw), Kind: JIDUnknown}
	if j.Raw == "" {
		return j
	}

	local, suffix := j.Raw, ""
	if at := strings.IndexByte(j.Raw, '@'); at >= 0 {
		local, suffix = j.Raw[:at], j.Raw[at+1:]
	}
	// Device suffixes like 5511999990000:12@s.whatsapp.net.
	if colon := strings.IndexByte(local, ':'); colon >= 0 {
		local = local[:colon]
	}

	switch suffix {
	case "g.us":
		j.Kind = JIDGroup
		return j
	case "lid":
		j.Kind = JIDLocal
		return j
	case "broadcast", "newsletter":
		return j
	case "", "s.whatsapp.net", "c.us":
		digits := digitsOf(local)
		if len(digits) >= minPhoneDigits {
			j.Kind = JIDPhone
			j.Digits = digits
		}
		return j
	default:
		return j
	}
}

// CanonicalDigits picks the preferred phone digits for one human when both a
// primary and an alternate identifier are known. Phone-style always wins over
// opaque-style; groups are self-canonical and never yield digits.
func CanonicalDigits(primary, alternate JID) string {
	if primary.Kind == JIDGroup {
		return ""
	}
	if primary.Kind == JIDPhone {
		return primary.Digits
	}
	if alternate.Kind == JIDPhone {
		return alternate.Digits
	}
	return ""
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
