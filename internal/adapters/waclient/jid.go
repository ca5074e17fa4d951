package waclient

import (
	"fmt"
	"regexp"
	"strings"

	waTypes "go.mau.fi/whatsmeow/types"
)

var phonePattern = regexp.MustCompile(`^\d+$`)

// normalizeJID accepts bare phone numbers (+5511999999999, 5511999999999)
// as well as full JIDs and returns the canonical WhatsApp form.
func normalizeJID(jid string) string {
	jid = strings.TrimSpace(jid)
	if strings.Contains(jid, "@") {
		return jid
	}

	jid = strings.TrimPrefix(jid, "+")
	for _, r := range []string{" ", "-", "(", ")"} {
		jid = strings.ReplaceAll(jid, r, "")
	}

	if phonePattern.MatchString(jid) {
		return jid + "@s.whatsapp.net"
	}
	return jid
}

func parseJID(jid string) (waTypes.JID, error) {
	if jid == "" {
		return waTypes.EmptyJID, fmt.Errorf("JID cannot be empty")
	}

	parsed, err := waTypes.ParseJID(normalizeJID(jid))
	if err != nil {
		return waTypes.EmptyJID, fmt.Errorf("failed to parse JID %s: %w", jid, err)
	}
	if parsed.User == "" {
		return waTypes.EmptyJID, fmt.Errorf("JID missing user part: %s", jid)
	}
	return parsed, nil
}
