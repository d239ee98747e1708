package internaldefs

import (
	"github.com/MrEthical07/authcore"
)

// Namespace prefixes every exported series.
const Namespace = "authcore"

// CounterDef names one exported counter.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef names one exported latency histogram.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

var counterHelp = map[authcore.MetricID]string{
	authcore.MetricLoginSuccess:          "Logins that issued tokens.",
	authcore.MetricLoginFailure:          "Logins rejected for wrong credentials.",
	authcore.MetricLoginInactive:         "Logins rejected for inactive accounts.",
	authcore.MetricAccountLocked:         "Logins rejected while the account was locked.",
	authcore.MetricLockoutTriggered:      "Failures that started a lockout window.",
	authcore.MetricMfaRequired:           "Logins that stopped at a second-factor challenge.",
	authcore.MetricMfaSuccess:            "Accepted second-factor codes.",
	authcore.MetricMfaFailure:            "Rejected second-factor codes.",
	authcore.MetricMfaChallengeCreated:   "Second-factor challenges created.",
	authcore.MetricMfaChallengeExpired:   "Codes submitted for unknown, expired or used challenges.",
	authcore.MetricMfaChallengeExhausted: "Challenges discarded after too many wrong codes.",
	authcore.MetricMfaReplayDetected:     "Reused TOTP codes rejected by replay protection.",
	authcore.MetricMfaEnabled:            "MFA enrollments.",
	authcore.MetricMfaDisabled:           "MFA removals.",
	authcore.MetricBackupCodeUsed:        "Backup codes consumed.",
	authcore.MetricBackupCodeFailed:      "Backup code attempts that matched nothing.",
	authcore.MetricBackupCodeRegenerated: "Backup code regenerations.",
	authcore.MetricRefreshSuccess:        "Refresh token rotations.",
	authcore.MetricRefreshFailure:        "Rejected refresh tokens.",
	authcore.MetricTokenRevoked:          "Refresh tokens revoked.",
	authcore.MetricNotificationFailure:   "Codes the SMS or email gateway failed to deliver.",
	authcore.MetricBackendFailure:        "Operations failed by a store or cache error.",
}

// CounterDefs lists every counter in MetricID order.
var CounterDefs = buildCounterDefs()

// HistogramDefs lists the latency histograms.
var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricAuthenticateLatency, Name: Namespace + "_authenticate_latency_seconds", Help: "Authenticate latency histogram."},
}

func buildCounterDefs() []CounterDef {
	defs := make([]CounterDef, 0, len(counterHelp))
	for _, id := range authcore.MetricIDs() {
		help, ok := counterHelp[id]
		if !ok {
			continue
		}
		defs = append(defs, CounterDef{ID: id, Name: Namespace + "_" + id.String() + "_total", Help: help})
	}
	return defs
}

// HistogramBounds are the le labels matching authcore.HistogramBounds.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds spelled for instrument names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, zero-filling missing buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into le counts.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
