package modem

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/modemfarm/smsagent/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	responses map[string]string
	pending   []byte
	writes    []string
	closed    int
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	cmd := strings.TrimSuffix(string(p), "\r\n")
	f.writes = append(f.writes, cmd)
	f.pending = []byte(f.responses[cmd])
	return len(p), nil
}

func (f *fakeTransport) Read(p []byte) (int, error) {
	if len(f.pending) == 0 {
		return 0, nil
	}
	n := copy(p, f.pending)
	f.pending = f.pending[n:]
	return n, nil
}

func (f *fakeTransport) Close() error            { f.closed++; return nil }
func (f *fakeTransport) ResetInputBuffer() error { f.pending = nil; return nil }

func (f *fakeTransport) commandCount(cmd string) int {
	count := 0
	for _, w := range f.writes {
		if w == cmd {
			count++
		}
	}
	return count
}

type fakeDialer struct {
	tr  *fakeTransport
	err error
}

func (d fakeDialer) Dial(portName string) (Transport, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.tr, nil
}

func healthyResponses() map[string]string {
	return map[string]string{
		"AT":        "\r\nOK\r\n",
		"ATE0":      "\r\nOK\r\n",
		"AT+CMEE=2": "\r\nOK\r\n",
		"AT+GSN":    "\r\n356938035643809\r\n\r\nOK\r\n",
		"AT+CIMI":   "\r\n310410123456789\r\n\r\nOK\r\n",
		"AT+CCID":   "\r\n+CCID: 89014103211118510720\r\n\r\nOK\r\n",
		"AT+CNUM":   "\r\n+CNUM: \"Line 1\",\"+12025550123\",145\r\n\r\nOK\r\n",
		"AT+COPS?":  "\r\n+COPS: 0,0,\"T-Mobile\",7\r\n\r\nOK\r\n",
		"AT+CSQ":    "\r\n+CSQ: 20,99\r\n\r\nOK\r\n",
		"AT+CPIN?":  "\r\n+CPIN: READY\r\n\r\nOK\r\n",
		"AT+CREG?":  "\r\n+CREG: 0,1\r\n\r\nOK\r\n",
	}
}

func newTestDriver(t *testing.T, tr *fakeTransport) *atDriver {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	d := newATDriver("COM7", FranklinT9Profile, fakeDialer{tr: tr}, logger)
	d.sleep = func(context.Context, time.Duration) {}
	return d
}

func TestInitializeHealthyModem(t *testing.T) {
	tr := &fakeTransport{responses: healthyResponses()}
	d := newTestDriver(t, tr)

	require.NoError(t, d.Initialize(context.Background()))

	id := d.Identity()
	assert.Equal(t, "356938035643809", id.IMEI)
	assert.Equal(t, "89014103211118510720", id.ICCID)
	assert.Equal(t, "310410123456789", id.IMSI)
	assert.Equal(t, "+12025550123", d.PhoneNumber())

	net := d.Network()
	assert.Equal(t, models.RegistrationRegistered, net.State)
	assert.Equal(t, "T-Mobile", net.Operator)
	assert.Equal(t, 64, net.SignalQuality)
}

func TestInitializeNoLiveness(t *testing.T) {
	tr := &fakeTransport{responses: map[string]string{}}
	d := newTestDriver(t, tr)

	err := d.Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "liveness")
}

func TestInitializePortBusy(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	d := newATDriver("COM7", GenericProfile, fakeDialer{err: ErrPortBusy}, logger)

	err := d.Initialize(context.Background())
	require.ErrorIs(t, err, ErrPortBusy)
}

func TestInitializeICCIDVariantFallback(t *testing.T) {
	responses := healthyResponses()
	responses["AT+CCID"] = "\r\nERROR\r\n"
	responses["AT+ICCID"] = "\r\n+ICCID: 89014103211118510720\r\n\r\nOK\r\n"
	tr := &fakeTransport{responses: responses}
	d := newTestDriver(t, tr)

	require.NoError(t, d.Initialize(context.Background()))
	assert.Equal(t, "89014103211118510720", d.Identity().ICCID)
	assert.Equal(t, 1, tr.commandCount("AT+ICCID"))
}

func TestInitializeNoSIMIdentity(t *testing.T) {
	responses := map[string]string{"AT": "\r\nOK\r\n"}
	tr := &fakeTransport{responses: responses}
	d := newTestDriver(t, tr)

	err := d.Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no SIM identity")
}

func TestInitializeGarbledFieldsDegrade(t *testing.T) {
	responses := healthyResponses()
	responses["AT+GSN"] = "\r\n<<garbage>>\r\nOK\r\n"
	responses["AT+CGSN"] = "\r\n~~~~\r\nOK\r\n"
	responses["AT+CNUM"] = "\r\nERROR\r\n"
	tr := &fakeTransport{responses: responses}
	d := newTestDriver(t, tr)

	require.NoError(t, d.Initialize(context.Background()))
	assert.Empty(t, d.Identity().IMEI, "garbled IMEI stays unknown")
	assert.Empty(t, d.PhoneNumber())
	assert.Equal(t, models.RegistrationRegistered, d.Network().State)
}

func TestRegistrationDeniedIsTerminal(t *testing.T) {
	responses := healthyResponses()
	responses["AT+CREG?"] = "\r\n+CREG: 0,3\r\n\r\nOK\r\n"
	tr := &fakeTransport{responses: responses}
	d := newTestDriver(t, tr)

	require.NoError(t, d.Initialize(context.Background()))
	assert.Equal(t, models.RegistrationDenied, d.Network().State)
	assert.Equal(t, 1, tr.commandCount("AT+CREG?"), "denied must not be retried")
}

func TestRegistrationRetriesExhausted(t *testing.T) {
	responses := healthyResponses()
	responses["AT+CREG?"] = "\r\n+CREG: 0,2\r\n\r\nOK\r\n"
	tr := &fakeTransport{responses: responses}
	d := newTestDriver(t, tr)
	d.regDelay = 0

	require.NoError(t, d.Initialize(context.Background()))
	assert.Equal(t, models.RegistrationNotRegistered, d.Network().State)
	assert.Equal(t, 3, tr.commandCount("AT+CREG?"))
}

func TestRegistrationSIMLocked(t *testing.T) {
	responses := healthyResponses()
	responses["AT+CPIN?"] = "\r\n+CPIN: SIM PIN\r\n\r\nOK\r\n"
	tr := &fakeTransport{responses: responses}
	d := newTestDriver(t, tr)

	require.NoError(t, d.Initialize(context.Background()))
	assert.Equal(t, models.RegistrationNotRegistered, d.Network().State)
	assert.Equal(t, 0, tr.commandCount("AT+CREG?"))
}

func TestListMessagesReadsAndDeletes(t *testing.T) {
	responses := healthyResponses()
	responses[`AT+CMGL="ALL"`] = "+CMGL: 1,\"REC UNREAD\",\"+15559876543\",\"\",\"24/06/01,10:15:02-20\"\r\n" +
		"Your code is 123456\r\n" +
		"+CMGL: 3,\"REC UNREAD\",\"12345\",\"\",\"24/06/01,10:20:40-20\"\r\n" +
		"Second message\r\n" +
		"OK\r\n"
	responses["AT+CMGD=1"] = "\r\nOK\r\n"
	responses["AT+CMGD=3"] = "\r\nOK\r\n"
	tr := &fakeTransport{responses: responses}
	d := newTestDriver(t, tr)

	msgs, err := d.ListMessages(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, "COM7", msgs[0].DevicePort)
	assert.Equal(t, "Your code is 123456", msgs[0].Text)
	assert.Equal(t, "+15559876543", msgs[0].Sender)
	assert.False(t, msgs[0].ReceivedAt.IsZero())

	assert.Equal(t, 1, tr.commandCount("AT+CMGD=1"))
	assert.Equal(t, 1, tr.commandCount("AT+CMGD=3"))
	assert.Equal(t, 1, tr.commandCount("AT+CMGF=1"))
}

func TestListMessagesEmptyInbox(t *testing.T) {
	responses := healthyResponses()
	responses[`AT+CMGL="ALL"`] = "\r\nOK\r\n"
	tr := &fakeTransport{responses: responses}
	d := newTestDriver(t, tr)

	msgs, err := d.ListMessages(context.Background())
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestCleanupIdempotent(t *testing.T) {
	tr := &fakeTransport{responses: healthyResponses()}
	d := newTestDriver(t, tr)

	require.NoError(t, d.Initialize(context.Background()))
	d.Cleanup()
	d.Cleanup()
	assert.Equal(t, 1, tr.closed)
}

func TestProfileForVendor(t *testing.T) {
	assert.Equal(t, "franklin-t9", ProfileForVendor("05C6").Name)
	assert.Equal(t, "franklin-t9", ProfileForVendor("05c6").Name)
	assert.Equal(t, "novatel-551l", ProfileForVendor("1410").Name)
	assert.Equal(t, "generic-gsm", ProfileForVendor("2C7C").Name)
	assert.Equal(t, "generic-gsm", ProfileForVendor("FFFF").Name)
}

func TestSupportedVendor(t *testing.T) {
	assert.True(t, SupportedVendor("05C6"))
	assert.True(t, SupportedVendor("2c7c"))
	assert.True(t, SupportedVendor("1782"))
	assert.True(t, SupportedVendor("1410"))
	assert.False(t, SupportedVendor("046D"))
	assert.False(t, SupportedVendor(""))
}

func TestSerialDialerBusyMapping(t *testing.T) {
	// Opening a nonexistent port must yield a regular error, not ErrPortBusy.
	d := SerialDialer{}
	_, err := d.Dial("/dev/ttyDOESNOTEXIST42")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrPortBusy))
}
