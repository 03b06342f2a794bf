package atcmd

import (
	"testing"

	"github.com/modemfarm/smsagent/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIMEI(t *testing.T) {
	tests := []struct {
		name     string
		response string
		expected string
	}{
		{"plain 15 digits", "AT+CGSN\r\n356938035643809\r\nOK\r\n", "356938035643809"},
		{"14 digits rejected", "35693803564380\r\nOK\r\n", ""},
		{"16 digits rejected", "3569380356438090\r\nOK\r\n", ""},
		{"embedded in noise", "\r\n\r\n356938035643809\r\n\r\nOK\r\n", "356938035643809"},
		{"error response", "ERROR\r\n", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseIMEI(tt.response))
		})
	}
}

func TestParseICCID(t *testing.T) {
	tests := []struct {
		name     string
		response string
		expected string
	}{
		{"bare 20 digits", "89014103211118510720\r\nOK\r\n", "89014103211118510720"},
		{"ccid prefix", "+CCID: 89014103211118510720\r\nOK\r\n", "89014103211118510720"},
		{"qccid prefix", "+QCCID: 8901410321111851072\r\nOK\r\n", "8901410321111851072"},
		{"vendor caret prefix", "^ICCID: 89014103211118510720\r\nOK\r\n", "89014103211118510720"},
		{"crsm response", `+CRSM: 144,0,"98103012112111581007"` + "\r\nOK\r\n", "98103012112111581007"},
		{"18 digits accepted", "890141032111185107\r\nOK\r\n", "890141032111185107"},
		{"too short", "8901410321111\r\nOK\r\n", ""},
		{"error", "ERROR\r\n", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseICCID(tt.response))
		})
	}
}

func TestParsePhoneNumber(t *testing.T) {
	tests := []struct {
		name     string
		response string
		expected string
	}{
		{"line1 format", `+CNUM: "Line 1","+12025550123",145` + "\r\nOK\r\n", "+12025550123"},
		{"no alpha field", `+CNUM: ,"+12025550123",145` + "\r\nOK\r\n", "+12025550123"},
		{"bare digits", `+CNUM: "","2025550123",129` + "\r\nOK\r\n", "2025550123"},
		{"missing", "OK\r\n", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParsePhoneNumber(tt.response))
		})
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		want  string
		valid bool
	}{
		{"ten digits gets country code", "2025550123", "12025550123", true},
		{"eleven digits with leading one", "12025550123", "12025550123", true},
		{"plus prefixed", "+12025550123", "12025550123", true},
		{"formatted", "(202) 555-0123", "12025550123", true},
		{"long without leading one", "442025550123", "1442025550123", true},
		{"nine digits rejected", "202555012", "", false},
		{"empty rejected", "", "", false},
		{"unknown marker rejected", "Unknown", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizePhone(tt.raw)
			assert.Equal(t, tt.valid, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizePhoneIdempotent(t *testing.T) {
	inputs := []string{"2025550123", "+1 (202) 555-0123", "12025550123", "442025550123"}
	for _, raw := range inputs {
		first, ok := NormalizePhone(raw)
		require.True(t, ok, raw)
		second, ok := NormalizePhone(first)
		require.True(t, ok, raw)
		assert.Equal(t, first, second, "normalize must be idempotent for %q", raw)
	}
}

func TestParseSignalQuality(t *testing.T) {
	tests := []struct {
		name     string
		response string
		expected int
	}{
		{"mid signal", "+CSQ: 15,99\r\nOK\r\n", 48},
		{"full signal", "+CSQ: 31,0\r\nOK\r\n", 100},
		{"unknown rssi", "+CSQ: 99,99\r\nOK\r\n", 0},
		{"zero", "+CSQ: 0,0\r\nOK\r\n", 0},
		{"garbage", "blerg\r\n", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseSignalQuality(tt.response))
		})
	}
}

func TestParseRegistration(t *testing.T) {
	tests := []struct {
		response string
		expected models.RegistrationState
	}{
		{"+CREG: 0,0\r\nOK\r\n", models.RegistrationNotRegistered},
		{"+CREG: 0,1\r\nOK\r\n", models.RegistrationRegistered},
		{"+CREG: 0,2\r\nOK\r\n", models.RegistrationSearching},
		{"+CREG: 0,3\r\nOK\r\n", models.RegistrationDenied},
		{"+CREG: 0,5\r\nOK\r\n", models.RegistrationRoaming},
		{"+CREG: 0,4\r\nOK\r\n", models.RegistrationUnknown},
		{"ERROR\r\n", models.RegistrationUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, ParseRegistration(tt.response), tt.response)
	}
}

func TestParseOperator(t *testing.T) {
	resp := `+COPS: 0,0,"T-Mobile",7` + "\r\nOK\r\n"
	assert.Equal(t, "T-Mobile", ParseOperator(resp))
	assert.Equal(t, "", ParseOperator("OK\r\n"))
}

func TestParseMessageList(t *testing.T) {
	resp := "+CMGL: 1,\"REC UNREAD\",\"+15559876543\",\"\",\"24/06/01,10:15:02-20\"\r\n" +
		"Your code is 123456\r\n" +
		"+CMGL: 4,\"REC READ\",\"12345\",\"\",\"24/06/01,10:20:40-20\"\r\n" +
		"café code 9999\r\n" +
		"OK\r\n"

	msgs := ParseMessageList(resp)
	require.Len(t, msgs, 2)

	assert.Equal(t, "1", msgs[0].LocalID)
	assert.Equal(t, "REC UNREAD", msgs[0].SIMStatus)
	assert.Equal(t, "+15559876543", msgs[0].Sender)
	assert.Equal(t, "Your code is 123456", msgs[0].Text)

	assert.Equal(t, "4", msgs[1].LocalID)
	assert.Equal(t, "caf? code 9999", msgs[1].Text, "non-ASCII bytes become placeholders")
}

func TestParseMessageListEmpty(t *testing.T) {
	assert.Empty(t, ParseMessageList("OK\r\n"))
	assert.Empty(t, ParseMessageList(""))
}

func TestDecodeText(t *testing.T) {
	assert.Equal(t, "hello", DecodeText([]byte("hello")))
	// Invalid UTF-8 falls back to Latin-1.
	assert.Equal(t, "café", DecodeText([]byte{'c', 'a', 'f', 0xe9}))
}
