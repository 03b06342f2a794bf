// Package state owns the device and activation maps. Every mutation from
// the scan loop and from request handlers goes through one mutex here, so a
// device can never be handed out while a concurrent scan is flipping it and
// can never serve two open activations at once.
package state

import (
	"strings"
	"sync"
	"time"

	"github.com/modemfarm/smsagent/internal/models"

	"github.com/sirupsen/logrus"
)

// DefaultServiceLimit caps completed activations per phone/service pair.
const DefaultServiceLimit = 4

type Store struct {
	mu  sync.Mutex
	log *logrus.Logger

	devices   map[string]*models.Device    // port -> device
	open      map[int64]*models.Activation // activation id -> open activation
	byPhone   map[string]int64             // normalized phone -> open activation id
	closed    map[int64]*models.Activation // activation id -> closed activation
	completed map[string]map[string]int    // phone -> service -> sold count

	nextID       int64
	serviceLimit int
	stats        models.Stats
}

func NewStore(logger *logrus.Logger) *Store {
	return &Store{
		log:          logger,
		devices:      make(map[string]*models.Device),
		open:         make(map[int64]*models.Activation),
		byPhone:      make(map[string]int64),
		closed:       make(map[int64]*models.Activation),
		completed:    make(map[string]map[string]int),
		nextID:       time.Now().Unix(),
		serviceLimit: DefaultServiceLimit,
		stats:        models.Stats{ServiceStats: make(map[string]models.ServiceStats)},
	}
}

// SetServiceLimit overrides the per-phone/service completed-activation cap.
// Zero or negative disables the cap.
func (s *Store) SetServiceLimit(limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serviceLimit = limit
}

// UpsertDevice records the result of a scan pass. A device that is busy
// keeps its busy status and activation binding: only FinishActivation may
// release it.
func (s *Store) UpsertDevice(d models.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.devices[d.Port]
	if ok && existing.Status == models.DeviceStatusBusy {
		d.Status = models.DeviceStatusBusy
		d.ActivationID = existing.ActivationID
		if d.PhoneNumber == "" {
			d.PhoneNumber = existing.PhoneNumber
		}
	}
	s.devices[d.Port] = &d
}

// RemoveMissingDevices drops every device whose port is absent from the
// current scan. Returns the removed port names.
func (s *Store) RemoveMissingDevices(present map[string]bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for port := range s.devices {
		if !present[port] {
			delete(s.devices, port)
			removed = append(removed, port)
		}
	}
	return removed
}

// SeenWithin reports whether the device on port was refreshed more recently
// than interval, so the scan loop does not hammer healthy hardware.
func (s *Store) SeenWithin(port string, interval time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[port]
	return ok && time.Since(d.LastSeen) < interval
}

// Device returns a copy of the device on port.
func (s *Store) Device(port string) (models.Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[port]
	if !ok {
		return models.Device{}, false
	}
	return *d, true
}

// DeviceSnapshot returns copies of all devices.
func (s *Store) DeviceSnapshot() []models.Device {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, *d)
	}
	return out
}

// PollableDevices returns copies of every device eligible for SMS polling
// (active or busy).
func (s *Store) PollableDevices() []models.Device {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Device
	for _, d := range s.devices {
		if d.Status == models.DeviceStatusActive || d.Status == models.DeviceStatusBusy {
			out = append(out, *d)
		}
	}
	return out
}

// ActiveDeviceCount counts devices currently allocatable.
func (s *Store) ActiveDeviceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, d := range s.devices {
		if d.Allocatable() {
			count++
		}
	}
	return count
}

// OpenActivationCount counts activations awaiting an SMS.
func (s *Store) OpenActivationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}

// Allocate atomically picks the first active device whose number does not
// carry an excluded prefix and whose service quota is not exhausted, flips
// it busy and opens an activation for it. The boolean is false when no
// device qualifies — a normal outcome, not an error.
func (s *Store) Allocate(service string, amount float64, currency string, exceptionPrefixes []string) (models.Activation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range s.devices {
		if !d.Allocatable() {
			continue
		}
		if phoneExcluded(d.PhoneNumber, exceptionPrefixes) {
			continue
		}
		if s.serviceLimit > 0 && s.completed[d.PhoneNumber][service] >= s.serviceLimit {
			continue
		}

		id := s.issueID()
		activation := &models.Activation{
			ID:          id,
			DevicePort:  d.Port,
			PhoneNumber: d.PhoneNumber,
			Service:     service,
			Amount:      amount,
			Currency:    currency,
			State:       models.ActivationStateAwaitingSMS,
			OpenedAt:    time.Now(),
		}

		d.Status = models.DeviceStatusBusy
		d.ActivationID = id
		s.open[id] = activation
		s.byPhone[d.PhoneNumber] = id
		s.stats.TotalActivations++

		return *activation, true
	}

	return models.Activation{}, false
}

func phoneExcluded(phone string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(phone, prefix) {
			return true
		}
	}
	return false
}

func (s *Store) issueID() int64 {
	s.nextID++
	return s.nextID
}

// CloseOutcome describes what a FINISH_ACTIVATION call actually did.
type CloseOutcome int

const (
	// CloseNoop: waiting status or unrecognized code; nothing changed.
	CloseNoop CloseOutcome = iota
	// CloseDone: the activation transitioned to a terminal state.
	CloseDone
	// CloseAlreadyClosed: duplicate finish of a closed activation.
	CloseAlreadyClosed
	// CloseUnknownID: id never seen; reported as success upstream.
	CloseUnknownID
)

// CloseResult carries the outcome plus the activation it applied to, when
// one exists.
type CloseResult struct {
	Outcome    CloseOutcome
	Activation models.Activation
	// Elapsed is the open-to-close latency, set only for CloseDone with a
	// sold state.
	Elapsed time.Duration
}

// Finish applies a FINISH_ACTIVATION status code. It is idempotent: closing
// an already-closed or unknown activation changes nothing and still reports
// a benign outcome, matching the upstream protocol contract.
func (s *Store) Finish(activationID int64, statusCode int) CloseResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	activation, ok := s.open[activationID]
	if !ok {
		if closed, wasClosed := s.closed[activationID]; wasClosed {
			return CloseResult{Outcome: CloseAlreadyClosed, Activation: *closed}
		}
		return CloseResult{Outcome: CloseUnknownID}
	}

	if statusCode == models.FinishStatusWaiting {
		return CloseResult{Outcome: CloseNoop, Activation: *activation}
	}

	state, terminal := models.CloseStateForCode(statusCode)
	if !terminal {
		s.log.Warnf("unknown finish status code %d for activation %d", statusCode, activationID)
		return CloseResult{Outcome: CloseNoop, Activation: *activation}
	}

	now := time.Now()
	activation.State = state
	activation.ClosedAt = &now
	delete(s.open, activationID)
	delete(s.byPhone, activation.PhoneNumber)
	s.closed[activationID] = activation

	svc := s.stats.ServiceStats[activation.Service]
	elapsed := now.Sub(activation.OpenedAt)

	switch state {
	case models.ActivationStateClosedSold:
		s.stats.CompletedActivations++
		s.stats.TotalEarnings += activation.Amount
		s.stats.CompletionSeconds = append(s.stats.CompletionSeconds, elapsed.Seconds())
		svc.Completed++
		if s.completed[activation.PhoneNumber] == nil {
			s.completed[activation.PhoneNumber] = make(map[string]int)
		}
		s.completed[activation.PhoneNumber][activation.Service]++
	case models.ActivationStateClosedCancelled:
		s.stats.CancelledActivations++
		svc.Cancelled++
	case models.ActivationStateClosedRefunded:
		s.stats.RefundedActivations++
		svc.Refunded++
	}
	s.stats.ServiceStats[activation.Service] = svc

	// Free the device back to the pool. The port may have vanished since
	// allocation; that is fine, the activation still closes.
	if d, exists := s.devices[activation.DevicePort]; exists && d.Status == models.DeviceStatusBusy {
		d.Status = models.DeviceStatusActive
		d.ActivationID = 0
	}

	return CloseResult{Outcome: CloseDone, Activation: *activation, Elapsed: elapsed}
}

// FindOpenByPhone resolves the open activation bound to a normalized phone
// number.
func (s *Store) FindOpenByPhone(phone string) (models.Activation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byPhone[phone]
	if !ok {
		return models.Activation{}, false
	}
	return *s.open[id], true
}

// OpenSnapshot returns copies of all open activations.
func (s *Store) OpenSnapshot() []models.Activation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Activation, 0, len(s.open))
	for _, a := range s.open {
		out = append(out, *a)
	}
	return out
}

// CompletedCount returns how many sold activations a phone has served for a
// service.
func (s *Store) CompletedCount(phone, service string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed[phone][service]
}

// StatsSnapshot returns a copy of the running counters.
func (s *Store) StatsSnapshot() models.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.stats
	snapshot.ServiceStats = make(map[string]models.ServiceStats, len(s.stats.ServiceStats))
	for k, v := range s.stats.ServiceStats {
		snapshot.ServiceStats[k] = v
	}
	snapshot.CompletionSeconds = append([]float64(nil), s.stats.CompletionSeconds...)
	return snapshot
}
