package modem

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// Profile captures how one hardware family diverges from the generic AT
// command set. Today that is only the ICCID command variants, probed in
// priority order.
type Profile struct {
	Name          string
	ICCIDCommands []string
}

var (
	// FranklinT9Profile covers the Qualcomm HS-USB based Franklin T9.
	FranklinT9Profile = Profile{
		Name:          "franklin-t9",
		ICCIDCommands: []string{"AT+CCID", "AT+ICCID", "AT+CRSM=176,12258,0,0,10"},
	}

	// Novatel551LProfile covers the Novatel Wireless USB 551L.
	Novatel551LProfile = Profile{
		Name:          "novatel-551l",
		ICCIDCommands: []string{"AT$QCCID?", "AT+CCID", "AT+CRSM=176,12258,0,0,10"},
	}

	// GenericProfile probes every variant we have seen in the wild, for
	// hardware we do not recognize.
	GenericProfile = Profile{
		Name: "generic-gsm",
		ICCIDCommands: []string{
			"AT+CCID", "AT^ICCID?", "AT+QCCID", "AT+ZGETICCID",
			"AT$QCCID?", "AT+ICCID", "AT+CRSM=176,12258,0,0,10",
		},
	}
)

// USB vendor ids whose ports are worth probing as modems.
const (
	VendorQualcomm = "05C6"
	VendorQuectel  = "2C7C"
	VendorSimCom   = "1782"
	VendorNovatel  = "1410"
)

// SupportedVendor reports whether a USB VID belongs to a known modem vendor.
func SupportedVendor(vid string) bool {
	switch strings.ToUpper(vid) {
	case VendorQualcomm, VendorQuectel, VendorSimCom, VendorNovatel:
		return true
	}
	return false
}

// ProfileForVendor resolves the hardware family from the USB vendor id.
func ProfileForVendor(vid string) Profile {
	switch strings.ToUpper(vid) {
	case VendorQualcomm:
		return FranklinT9Profile
	case VendorNovatel:
		return Novatel551LProfile
	}
	return GenericProfile
}

// New builds the driver for a discovered port, resolving the hardware
// family from the USB vendor id.
func New(portName, vid string, dialer Dialer, logger *logrus.Logger) Driver {
	return newATDriver(portName, ProfileForVendor(vid), dialer, logger)
}
