package models

import "time"

type DeviceStatus string

const (
	DeviceStatusDiscovered DeviceStatus = "discovered"
	DeviceStatusSimReady   DeviceStatus = "sim_ready"
	DeviceStatusRegistered DeviceStatus = "registered"
	DeviceStatusActive     DeviceStatus = "active"
	DeviceStatusBusy       DeviceStatus = "busy"
	DeviceStatusError      DeviceStatus = "error"
)

type RegistrationState string

const (
	RegistrationNotRegistered RegistrationState = "not_registered"
	RegistrationSearching     RegistrationState = "searching"
	RegistrationDenied        RegistrationState = "denied"
	RegistrationRegistered    RegistrationState = "registered"
	RegistrationRoaming       RegistrationState = "roaming"
	RegistrationUnknown       RegistrationState = "unknown"
)

// Registered reports whether the modem is attached to a network, either on
// its home operator or roaming.
func (r RegistrationState) Registered() bool {
	return r == RegistrationRegistered || r == RegistrationRoaming
}

// Device is one physical modem, keyed by its serial port. The device map is
// owned by the state store; the scan loop and the activation server mutate
// devices only through it.
type Device struct {
	Port          string            `json:"port"`
	IMEI          string            `json:"imei"`
	ICCID         string            `json:"iccid"`
	IMSI          string            `json:"imsi"`
	PhoneNumber   string            `json:"phone_number"`
	Operator      string            `json:"operator"`
	Product       string            `json:"product"`
	VID           string            `json:"vid"`
	PID           string            `json:"pid"`
	SignalQuality int               `json:"signal_quality"`
	Registration  RegistrationState `json:"registration"`
	Status        DeviceStatus      `json:"status"`
	LastSeen      time.Time         `json:"last_seen"`
	ActivationID  int64             `json:"activation_id,omitempty"`
	LastError     string            `json:"last_error,omitempty"`
}

// Allocatable reports whether the device may serve a new activation.
// A busy device is always excluded, as is anything below active.
func (d *Device) Allocatable() bool {
	return d.Status == DeviceStatusActive && d.PhoneNumber != ""
}
