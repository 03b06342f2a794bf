// Package modem drives one GSM modem at a time over an exclusive serial
// channel. The driver never lets a transport error escape: a command that
// fails leaves its field unknown and initialization carries on, so a flaky
// modem degrades instead of taking the scan down.
package modem

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modemfarm/smsagent/internal/atcmd"
	"github.com/modemfarm/smsagent/internal/models"

	"github.com/sirupsen/logrus"
)

type Identity struct {
	IMEI  string
	ICCID string
	IMSI  string
}

type NetworkInfo struct {
	SignalQuality int
	Operator      string
	State         models.RegistrationState
}

// Driver is the capability set shared by all hardware families.
type Driver interface {
	// Initialize opens the channel, runs the init command sequence and the
	// registration check. It fails only when the modem does not answer the
	// liveness probe or exposes no SIM identity.
	Initialize(ctx context.Context) error
	Identity() Identity
	// PhoneNumber returns the raw own-number record from the SIM, not yet
	// normalized. Empty when the SIM does not carry one.
	PhoneNumber() string
	Network() NetworkInfo
	// ListMessages reads all stored SMS in text mode. Every message is
	// deleted from the modem store right after it is read, regardless of
	// what happens to it downstream.
	ListMessages(ctx context.Context) ([]models.InboundMessage, error)
	DeleteMessage(ctx context.Context, localID string) error
	// Cleanup releases the serial channel. Safe to call repeatedly.
	Cleanup()
}

type atDriver struct {
	portName string
	profile  Profile
	dialer   Dialer
	tr       Transport
	log      *logrus.Entry

	// Replaced in tests to collapse settle delays.
	sleep func(context.Context, time.Duration)

	regAttempts int
	regDelay    time.Duration

	identity Identity
	phone    string
	network  NetworkInfo
}

func newATDriver(portName string, profile Profile, dialer Dialer, logger *logrus.Logger) *atDriver {
	return &atDriver{
		portName:    portName,
		profile:     profile,
		dialer:      dialer,
		log:         logger.WithFields(logrus.Fields{"port": portName, "family": profile.Name}),
		sleep:       sleepCtx,
		regAttempts: 3,
		regDelay:    2 * time.Second,
		network:     NetworkInfo{State: models.RegistrationUnknown},
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (d *atDriver) ensureOpen() error {
	if d.tr != nil {
		return nil
	}
	tr, err := d.dialer.Dial(d.portName)
	if err != nil {
		return err
	}
	d.tr = tr
	return nil
}

// sendCommand writes one AT command, waits out the settle delay and drains
// whatever the modem answered. The response may be partial or garbled;
// parsing is the caller's problem.
func (d *atDriver) sendCommand(ctx context.Context, cmd string, settle time.Duration) (string, error) {
	if d.tr == nil {
		return "", fmt.Errorf("%s: channel not open", d.portName)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := d.tr.ResetInputBuffer(); err != nil {
		d.log.Debugf("reset input buffer: %v", err)
	}
	if _, err := d.tr.Write([]byte(cmd + "\r\n")); err != nil {
		return "", fmt.Errorf("write %s: %w", cmd, err)
	}

	d.sleep(ctx, settle)

	var raw []byte
	buf := make([]byte, 256)
	for len(raw) < 64*1024 {
		n, err := d.tr.Read(buf)
		if n > 0 {
			raw = append(raw, buf[:n]...)
		}
		if err != nil || n == 0 {
			break
		}
	}

	response := atcmd.DecodeText(raw)
	d.log.WithField("cmd", cmd).Tracef("response: %q", response)
	return response, nil
}

func (d *atDriver) Initialize(ctx context.Context) error {
	if err := d.ensureOpen(); err != nil {
		return err
	}

	probe, err := d.sendCommand(ctx, "AT", 200*time.Millisecond)
	if err != nil || !strings.Contains(probe, "OK") {
		return fmt.Errorf("%s: no response to liveness probe", d.portName)
	}

	// Echo off, verbose errors on. Best effort.
	d.sendCommand(ctx, "ATE0", 200*time.Millisecond)
	d.sendCommand(ctx, "AT+CMEE=2", 200*time.Millisecond)

	if resp, err := d.sendCommand(ctx, "AT+GSN", 200*time.Millisecond); err == nil {
		d.identity.IMEI = atcmd.ParseIMEI(resp)
	}
	if d.identity.IMEI == "" {
		if resp, err := d.sendCommand(ctx, "AT+CGSN", 200*time.Millisecond); err == nil {
			d.identity.IMEI = atcmd.ParseIMEI(resp)
		}
	}

	if resp, err := d.sendCommand(ctx, "AT+CIMI", 200*time.Millisecond); err == nil {
		d.identity.IMSI = atcmd.ParseIMSI(resp)
	}

	// The supported families disagree on which command exposes the ICCID,
	// so each profile carries its variants in priority order.
	for _, cmd := range d.profile.ICCIDCommands {
		resp, err := d.sendCommand(ctx, cmd, time.Second)
		if err != nil {
			continue
		}
		if iccid := atcmd.ParseICCID(resp); iccid != "" {
			d.identity.ICCID = iccid
			d.log.Debugf("got ICCID via %s", cmd)
			break
		}
	}

	if d.identity.ICCID == "" && d.identity.IMSI == "" {
		return fmt.Errorf("%s: no SIM identity", d.portName)
	}

	if resp, err := d.sendCommand(ctx, "AT+CNUM", 200*time.Millisecond); err == nil {
		d.phone = atcmd.ParsePhoneNumber(resp)
	}
	if resp, err := d.sendCommand(ctx, "AT+COPS?", 200*time.Millisecond); err == nil {
		d.network.Operator = atcmd.ParseOperator(resp)
	}

	d.checkRegistration(ctx)
	return nil
}

// checkRegistration reads signal quality for diagnostics, gates on SIM
// readiness, then polls AT+CREG? a bounded number of times. Denied is
// terminal; exhausting the attempts reports not_registered.
func (d *atDriver) checkRegistration(ctx context.Context) {
	if resp, err := d.sendCommand(ctx, "AT+CSQ", 500*time.Millisecond); err == nil {
		d.network.SignalQuality = atcmd.ParseSignalQuality(resp)
	}
	if d.network.SignalQuality < 10 {
		d.log.Warnf("weak signal: %d%%", d.network.SignalQuality)
	}

	pin, err := d.sendCommand(ctx, "AT+CPIN?", 500*time.Millisecond)
	if err != nil || !strings.Contains(pin, "READY") {
		d.log.Warn("SIM not ready or PIN locked")
		d.network.State = models.RegistrationNotRegistered
		return
	}

	for attempt := 1; attempt <= d.regAttempts; attempt++ {
		resp, err := d.sendCommand(ctx, "AT+CREG?", 500*time.Millisecond)
		if err == nil {
			state := atcmd.ParseRegistration(resp)
			switch state {
			case models.RegistrationRegistered, models.RegistrationRoaming:
				d.network.State = state
				return
			case models.RegistrationDenied:
				d.log.Error("registration denied by network")
				d.network.State = state
				return
			case models.RegistrationSearching:
				d.log.Debugf("still searching for network (attempt %d/%d)", attempt, d.regAttempts)
			}
		}
		if attempt < d.regAttempts {
			d.sleep(ctx, d.regDelay)
		}
	}

	d.network.State = models.RegistrationNotRegistered
}

func (d *atDriver) Identity() Identity   { return d.identity }
func (d *atDriver) PhoneNumber() string  { return d.phone }
func (d *atDriver) Network() NetworkInfo { return d.network }

func (d *atDriver) ListMessages(ctx context.Context) ([]models.InboundMessage, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}

	d.sendCommand(ctx, "AT", 100*time.Millisecond)
	d.sendCommand(ctx, "AT+CMGF=1", 100*time.Millisecond)
	d.sendCommand(ctx, `AT+CSCS="GSM"`, 100*time.Millisecond)

	resp, err := d.sendCommand(ctx, `AT+CMGL="ALL"`, time.Second)
	if err != nil {
		return nil, err
	}

	messages := atcmd.ParseMessageList(resp)
	now := time.Now()
	for i := range messages {
		messages[i].DevicePort = d.portName
		messages[i].ReceivedAt = now

		// At-most-once local retention: drop the modem's copy as soon as
		// the message has been read, whatever happens to it upstream.
		if err := d.DeleteMessage(ctx, messages[i].LocalID); err != nil {
			d.log.Warnf("delete message %s: %v", messages[i].LocalID, err)
		}
	}

	return messages, nil
}

func (d *atDriver) DeleteMessage(ctx context.Context, localID string) error {
	_, err := d.sendCommand(ctx, "AT+CMGD="+localID, 100*time.Millisecond)
	return err
}

func (d *atDriver) Cleanup() {
	if d.tr == nil {
		return
	}
	if err := d.tr.Close(); err != nil {
		d.log.Debugf("close: %v", err)
	}
	d.tr = nil
}
