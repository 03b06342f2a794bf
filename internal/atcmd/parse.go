// Package atcmd contains pure parsers for AT command responses. Modem
// firmware is wildly inconsistent about formats, so every parser here is
// lenient: it scans for something that looks valid and reports absence
// instead of failing.
package atcmd

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/modemfarm/smsagent/internal/models"
)

var (
	cregRe = regexp.MustCompile(`\+CREG:\s*\d+,\s*(\d+)`)
	csqRe  = regexp.MustCompile(`\+CSQ:\s*(\d+),`)
	cnumRe = regexp.MustCompile(`\+CNUM:\s*"[^"]*",\s*"(\+?\d+)"`)
)

// Known ICCID response prefixes across the supported hardware families.
var iccidPrefixes = []string{"+CCID:", "^ICCID:", "+ICCID:", "+QCCID:", "$QCCID:", "ICCID:", "+CRSM:"}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func cleanLines(response string) []string {
	var lines []string
	for _, line := range strings.Split(response, "\r\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// ParseIMEI extracts a 15-digit IMEI from an AT+GSN or AT+CGSN response.
// Anything that is not exactly 15 digits is rejected.
func ParseIMEI(response string) string {
	for _, line := range cleanLines(response) {
		if d := digitsOnly(line); len(d) == 15 {
			return d
		}
	}
	return ""
}

// ParseICCID extracts the SIM serial from any of the vendor-specific ICCID
// command responses. Valid ICCIDs carry 18 to 20 digits.
func ParseICCID(response string) string {
	for _, line := range cleanLines(response) {
		if d := digitsOnly(line); len(d) >= 18 && len(d) <= 20 {
			return d
		}
		for _, prefix := range iccidPrefixes {
			if i := strings.Index(line, prefix); i >= 0 {
				for _, field := range strings.Split(line[i+len(prefix):], ",") {
					field = strings.Trim(strings.TrimSpace(field), `"`)
					if d := digitsOnly(field); len(d) >= 18 && len(d) <= 20 {
						return d
					}
				}
			}
		}
	}
	return ""
}

// ParseIMSI extracts the 15-digit subscriber identity from an AT+CIMI response.
func ParseIMSI(response string) string {
	for _, line := range cleanLines(response) {
		if line == "OK" || strings.Contains(line, "ERROR") || strings.HasPrefix(line, "AT") {
			continue
		}
		if d := digitsOnly(line); len(d) == 15 && d == line {
			return d
		}
	}
	return ""
}

// ParsePhoneNumber lifts the SIM's own number out of an AT+CNUM response.
// The returned value is raw; callers normalize it with NormalizePhone.
func ParsePhoneNumber(response string) string {
	if m := cnumRe.FindStringSubmatch(response); m != nil {
		return m[1]
	}
	// Some firmware omits the alpha field: +CNUM: ,"+15551230000",145
	for _, line := range cleanLines(response) {
		if !strings.HasPrefix(line, "+CNUM:") {
			continue
		}
		parts := strings.Split(strings.TrimPrefix(line, "+CNUM:"), ",")
		if len(parts) >= 2 {
			candidate := strings.Trim(strings.TrimSpace(parts[1]), `"`)
			if digitsOnly(candidate) != "" {
				return candidate
			}
		}
	}
	return ""
}

// ParseOperator extracts the operator name from an AT+COPS? response.
func ParseOperator(response string) string {
	for _, line := range cleanLines(response) {
		if !strings.HasPrefix(line, "+COPS:") {
			continue
		}
		parts := strings.Split(strings.TrimPrefix(line, "+COPS:"), ",")
		if len(parts) >= 3 {
			return strings.Trim(strings.TrimSpace(parts[2]), `"`)
		}
	}
	return ""
}

// ParseSignalQuality converts an AT+CSQ response to a 0-100 percentage.
// RSSI 99 means "not known or not detectable" and maps to 0.
func ParseSignalQuality(response string) int {
	m := csqRe.FindStringSubmatch(response)
	if m == nil {
		return 0
	}
	rssi, err := strconv.Atoi(m[1])
	if err != nil || rssi == 99 {
		return 0
	}
	pct := rssi * 100 / 31
	if pct > 100 {
		pct = 100
	}
	return pct
}

// ParseRegistration maps the <stat> field of an AT+CREG? response to a
// registration state.
func ParseRegistration(response string) models.RegistrationState {
	m := cregRe.FindStringSubmatch(response)
	if m == nil {
		return models.RegistrationUnknown
	}
	switch m[1] {
	case "0":
		return models.RegistrationNotRegistered
	case "1":
		return models.RegistrationRegistered
	case "2":
		return models.RegistrationSearching
	case "3":
		return models.RegistrationDenied
	case "5":
		return models.RegistrationRoaming
	}
	return models.RegistrationUnknown
}

// NormalizePhone canonicalizes a raw phone string to bare digits with the
// US country code as the leading digit. It is deliberately permissive about
// input shape and deliberately strict about length: fewer than 10 digits is
// rejected outright rather than guessed at.
func NormalizePhone(raw string) (string, bool) {
	digits := digitsOnly(raw)
	if len(digits) < 10 {
		return "", false
	}
	if len(digits) == 10 {
		return "1" + digits, true
	}
	if !strings.HasPrefix(digits, "1") {
		return "1" + digits, true
	}
	return digits, true
}

// DecodeText decodes raw modem bytes. UTF-8 is tried first; anything else
// falls back to a Latin-1 interpretation, which cannot fail.
func DecodeText(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	runes := make([]rune, len(raw))
	for i, b := range raw {
		runes[i] = rune(b)
	}
	return string(runes)
}

// SanitizeASCII replaces every non-ASCII rune with '?'. SMS bodies pass
// through unmodified otherwise.
func SanitizeASCII(text string) string {
	var b strings.Builder
	for _, r := range text {
		if r < 128 {
			b.WriteRune(r)
		} else {
			b.WriteByte('?')
		}
	}
	return b.String()
}

// ParseMessageList parses an AT+CMGL="ALL" response into messages. Each
// entry is a +CMGL header line followed by one body line.
func ParseMessageList(response string) []models.InboundMessage {
	var messages []models.InboundMessage
	lines := strings.Split(response, "\r\n")
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "+CMGL:") {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) < 4 {
			continue
		}
		header := strings.SplitN(parts[0], ":", 2)
		if len(header) != 2 {
			continue
		}
		msg := models.InboundMessage{
			LocalID:   strings.TrimSpace(header[1]),
			SIMStatus: strings.Trim(strings.TrimSpace(parts[1]), `"`),
			Sender:    strings.Trim(strings.TrimSpace(parts[2]), `"`),
		}
		if i+1 < len(lines) {
			i++
			msg.Text = SanitizeASCII(strings.TrimSpace(lines[i]))
		}
		messages = append(messages, msg)
	}
	return messages
}
