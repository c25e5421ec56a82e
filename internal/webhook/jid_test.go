package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyJID(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		kind   JIDKind
		digits string
	}{
		{"phone jid", "5511999990000@s.whatsapp.net", JIDPhone, "5511999990000"},
		{"phone jid legacy suffix", "5511999990000@c.us", JIDPhone, "5511999990000"},
		{"phone with device part", "5511999990000:12@s.whatsapp.net", JIDPhone, "5511999990000"},
		{"bare digits", "5511999990000", JIDPhone, "5511999990000"},
		{"formatted number", "+55 11 99999-0000@s.whatsapp.net", JIDPhone, "5511999990000"},
		{"opaque local id", "81896604192873@lid", JIDLocal, ""},
		{"group", "120363025246125486@g.us", JIDGroup, ""},
		{"status broadcast", "status@broadcast", JIDUnknown, ""},
		{"newsletter", "123456789@newsletter", JIDUnknown, ""},
		{"short code demoted", "40404@s.whatsapp.net", JIDUnknown, ""},
		{"seven digits demoted", "1234567", JIDUnknown, ""},
		{"eight digits accepted", "12345678", JIDPhone, "12345678"},
		{"empty", "", JIDUnknown, ""},
		{"garbage suffix", "abc@pqrst", JIDUnknown, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			j := ClassifyJID(tc.raw)
			assert.Equal(t, tc.kind, j.Kind)
			assert.Equal(t, tc.digits, j.Digits)
		})
	}
}

func TestCanonicalDigits(t *testing.T) {
	phone := ClassifyJID("5511999990000@s.whatsapp.net")
	lid := ClassifyJID("81896604192873@lid")
	group := ClassifyJID("120363025246125486@g.us")
	none := ClassifyJID("")

	// Phone-style always wins as canonical.
	assert.Equal(t, "5511999990000", CanonicalDigits(phone, lid))
	assert.Equal(t, "5511999990000", CanonicalDigits(lid, phone))
	assert.Equal(t, "", CanonicalDigits(lid, none))
	// Groups are self-canonical and never yield digits.
	assert.Equal(t, "", CanonicalDigits(group, phone))
}

func TestJIDKindString(t *testing.T) {
	assert.Equal(t, "phone", JIDPhone.String())
	assert.Equal(t, "lid", JIDLocal.String())
	assert.Equal(t, "group", JIDGroup.String())
	assert.Equal(t, "unknown", JIDUnknown.String())
}
