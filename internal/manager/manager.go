package manager

import (
	"context"
	"strings"
	"time"

	"github.com/modemfarm/smsagent/internal/atcmd"
	"github.com/modemfarm/smsagent/internal/models"
	"github.com/modemfarm/smsagent/internal/modem"
	"github.com/modemfarm/smsagent/internal/service"
	"github.com/modemfarm/smsagent/internal/state"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial/enumerator"
)

// PortInfo is one serial port as reported by the OS enumerator.
type PortInfo struct {
	Name    string
	IsUSB   bool
	VID     string
	PID     string
	Product string
}

// PortLister enumerates candidate serial ports.
type PortLister interface {
	List() ([]PortInfo, error)
}

// USBPortLister backs PortLister with the OS USB serial enumerator.
type USBPortLister struct{}

func (USBPortLister) List() ([]PortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	out := make([]PortInfo, 0, len(ports))
	for _, p := range ports {
		out = append(out, PortInfo{
			Name:    p.Name,
			IsUSB:   p.IsUSB,
			VID:     p.VID,
			PID:     p.PID,
			Product: p.Product,
		})
	}
	return out, nil
}

// DriverFactory builds a modem driver for a discovered port. Injected so
// tests can swap hardware for fakes.
type DriverFactory func(portName, vid string) modem.Driver

// SMSSink receives messages pulled off the modems.
type SMSSink interface {
	HandleInboundSMS(ctx context.Context, msg models.InboundMessage, devicePhone string) error
}

// Snapshotter lets the manager publish state after each scan.
type Snapshotter interface {
	PublishSnapshot(ctx context.Context)
}

// Diagnostic port name fragments. Multi-port modems expose these alongside
// the AT channel and they must never be probed.
var diagnosticMarkers = []string{"DIAGNOSTIC", "NMEA", "LOGGING", "PCUI", "DM PORT"}

func isDiagnosticPort(product string) bool {
	upper := strings.ToUpper(product)
	for _, marker := range diagnosticMarkers {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}

// Manager owns the modem fleet: it discovers ports, probes hardware,
// advances each device through its lifecycle and drains inbound SMS.
type Manager struct {
	store    *state.Store
	lister   PortLister
	factory  DriverFactory
	sink     SMSSink
	snapshot Snapshotter
	metrics  *service.MetricsCollector
	logger   *logrus.Logger

	scanInterval   time.Duration
	pollInterval   time.Duration
	reprobeBackoff time.Duration

	scanRequests chan struct{}
}

type Options struct {
	ScanInterval time.Duration
	PollInterval time.Duration
	// ReprobeBackoff suppresses re-initialization of a port that was probed
	// recently. Zero keeps the default.
	ReprobeBackoff time.Duration
	Lister         PortLister
	Factory        DriverFactory
	Metrics        *service.MetricsCollector
	Snapshot       Snapshotter
}

func New(store *state.Store, sink SMSSink, logger *logrus.Logger, opts Options) *Manager {
	if opts.ScanInterval <= 0 {
		opts.ScanInterval = 30 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.ReprobeBackoff <= 0 {
		opts.ReprobeBackoff = 5 * time.Minute
	}
	if opts.Lister == nil {
		opts.Lister = USBPortLister{}
	}
	if opts.Factory == nil {
		opts.Factory = func(portName, vid string) modem.Driver {
			return modem.New(portName, vid, modem.SerialDialer{}, logger)
		}
	}
	return &Manager{
		store:          store,
		lister:         opts.Lister,
		factory:        opts.Factory,
		sink:           sink,
		snapshot:       opts.Snapshot,
		metrics:        opts.Metrics,
		logger:         logger,
		scanInterval:   opts.ScanInterval,
		pollInterval:   opts.PollInterval,
		reprobeBackoff: opts.ReprobeBackoff,
		scanRequests:   make(chan struct{}, 1),
	}
}

// TriggerScan requests an out-of-schedule scan. Non-blocking; a scan that
// is already queued absorbs the request.
func (m *Manager) TriggerScan() {
	select {
	case m.scanRequests <- struct{}{}:
	default:
	}
}

// Run drives the scan and poll loops until the context is cancelled.
func (m *Manager) Run(ctx context.Context) {
	m.Scan(ctx)

	scanTicker := time.NewTicker(m.scanInterval)
	pollTicker := time.NewTicker(m.pollInterval)
	defer scanTicker.Stop()
	defer pollTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.scanRequests:
			m.Scan(ctx)
		case <-scanTicker.C:
			m.Scan(ctx)
		case <-pollTicker.C:
			m.PollMessages(ctx)
		}
	}
}

// Scan enumerates ports, probes new or stale modems and reconciles the
// store with what is physically present.
func (m *Manager) Scan(ctx context.Context) {
	started := time.Now()

	ports, err := m.lister.List()
	if err != nil {
		m.logger.Errorf("port enumeration failed: %v", err)
		return
	}

	present := make(map[string]bool)
	for _, port := range ports {
		if !port.IsUSB || !modem.SupportedVendor(port.VID) {
			continue
		}
		if isDiagnosticPort(port.Product) {
			continue
		}
		present[port.Name] = true
		m.probePort(ctx, port)
	}

	removed := m.store.RemoveMissingDevices(present)
	for _, port := range removed {
		m.logger.WithField("port", port).Info("modem unplugged")
	}

	if m.metrics != nil {
		m.metrics.RecordScanDuration(time.Since(started).Seconds())
	}
	if m.snapshot != nil {
		m.snapshot.PublishSnapshot(ctx)
	}
}

func (m *Manager) probePort(ctx context.Context, port PortInfo) {
	if existing, ok := m.store.Device(port.Name); ok {
		// A rented modem is never re-initialized; message polling is the
		// only traffic it sees until the activation closes.
		if existing.Status == models.DeviceStatusBusy {
			return
		}
		if existing.Status != models.DeviceStatusError && m.store.SeenWithin(port.Name, m.reprobeBackoff) {
			return
		}
	}

	log := m.logger.WithFields(logrus.Fields{"port": port.Name, "vid": port.VID})

	driver := m.factory(port.Name, port.VID)
	defer driver.Cleanup()

	device := models.Device{
		Port:     port.Name,
		VID:      port.VID,
		PID:      port.PID,
		Product:  port.Product,
		Status:   models.DeviceStatusDiscovered,
		LastSeen: time.Now(),
	}

	if err := driver.Initialize(ctx); err != nil {
		log.Warnf("modem probe failed: %v", err)
		device.Status = models.DeviceStatusError
		device.LastError = err.Error()
		m.store.UpsertDevice(device)
		return
	}

	identity := driver.Identity()
	network := driver.Network()
	device.IMEI = identity.IMEI
	device.ICCID = identity.ICCID
	device.IMSI = identity.IMSI
	device.Operator = network.Operator
	device.SignalQuality = network.SignalQuality
	device.Registration = network.State

	if device.ICCID != "" {
		device.Status = models.DeviceStatusSimReady
	}
	if device.Status == models.DeviceStatusSimReady && network.State.Registered() {
		device.Status = models.DeviceStatusRegistered
		if phone, ok := atcmd.NormalizePhone(driver.PhoneNumber()); ok {
			device.PhoneNumber = phone
			device.Status = models.DeviceStatusActive
		}
	}

	log.WithFields(logrus.Fields{
		"imei":   device.IMEI,
		"phone":  device.PhoneNumber,
		"status": device.Status,
	}).Info("modem probed")

	m.store.UpsertDevice(device)
}

// PollMessages drains stored SMS from every device that can receive one.
func (m *Manager) PollMessages(ctx context.Context) {
	for _, device := range m.store.PollableDevices() {
		m.pollDevice(ctx, device)
	}
}

func (m *Manager) pollDevice(ctx context.Context, device models.Device) {
	driver := m.factory(device.Port, device.VID)
	defer driver.Cleanup()

	messages, err := driver.ListMessages(ctx)
	if err != nil {
		m.logger.WithField("port", device.Port).Debugf("message poll failed: %v", err)
		return
	}

	for _, msg := range messages {
		m.logger.WithFields(logrus.Fields{
			"port":   device.Port,
			"sender": msg.Sender,
		}).Info("sms received")
		if err := m.sink.HandleInboundSMS(ctx, msg, device.PhoneNumber); err != nil {
			m.logger.WithField("port", device.Port).Warnf("sms dispatch: %v", err)
		}
	}
}
