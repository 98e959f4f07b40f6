// Package mfa implements multi-factor enrollment and verification across
// several factor types: time-based one-time codes, out-of-band codes
// delivered over SMS or email, biometric and hardware-key assertions, and
// single-use backup codes. Verification attempts are rate limited and
// serialized per user so a single-use code can never be consumed twice.
package mfa

// Method identifies a second-factor verification method.
type Method string

const (
	MethodTOTP        Method = "totp"
	MethodSMS         Method = "sms"
	MethodEmail       Method = "email"
	MethodBiometric   Method = "biometric"
	MethodHardwareKey Method = "hardware_key"
	MethodBackupCodes Method = "backup_codes"
)

// Methods lists every method the service knows about.
func Methods() []Method {
	return []Method{MethodTOTP, MethodSMS, MethodEmail, MethodBiometric, MethodHardwareKey, MethodBackupCodes}
}

// Known reports whether m is one of the supported methods.
func (m Method) Known() bool {
	switch m {
	case MethodTOTP, MethodSMS, MethodEmail, MethodBiometric, MethodHardwareKey, MethodBackupCodes:
		return true
	}
	return false
}

// OutOfBand reports whether m relies on a code delivered to the user over
// an external channel.
func (m Method) OutOfBand() bool {
	return m == MethodSMS || m == MethodEmail
}
