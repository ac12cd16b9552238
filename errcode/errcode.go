package errcode

// Code is a stable, wire-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK Code = "ok"

	// Ruleset container parse codes. ParseRules checks the header codes
	// first, then CrcMismatch, then table bounds, then each condition,
	// action and rule record.
	ShortHeader             Code = "short_header"
	BadMagic                Code = "bad_magic"
	UnsupportedVersion      Code = "unsupported_version"
	TruncatedBody           Code = "truncated_body"
	BadStringTableOffset    Code = "bad_string_table_offset"
	CountsOverflow          Code = "counts_overflow"
	InvalidSignalIdx        Code = "invalid_signal_idx"
	InvalidOperation        Code = "invalid_operation"
	InvalidHoldDuration     Code = "invalid_hold_duration"
	InvalidParamType        Code = "invalid_param_type"
	EmptyCapabilityID       Code = "empty_capability_id"
	ParamRangeOverflow      Code = "param_range_overflow"
	ActionRangeOverflow     Code = "action_range_overflow"
	ConditionMaskOutOfRange Code = "condition_mask_out_of_range"
	CrcMismatch             Code = "crc_mismatch"

	// Install codes.
	UnknownCapability Code = "unknown_capability"

	// Stream codes.
	LenMismatch Code = "len_mismatch"
	StreamCrc   Code = "stream_crc_fail"
	NoRules     Code = "no_rules"

	// OTA codes.
	OTABusy  Code = "ota_busy"
	OTASpace Code = "ota_space"
	OTACrc   Code = "ota_crc"
	OTAFlash Code = "ota_flash"

	// Resource codes.
	ProfileTooLarge Code = "profile_too_large"

	Error Code = "error" // generic fallback
)

// Optional wrapper when we want to keep context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	if e.Msg != "" {
		return string(e.C) + ": " + e.Msg
	}
	return string(e.C)
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}

// Detail extracts the Msg of a wrapped E, or "".
func Detail(err error) string {
	if e, ok := err.(*E); ok {
		return e.Msg
	}
	return ""
}
