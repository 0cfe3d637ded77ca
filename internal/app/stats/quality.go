package stats

import "github.com/pion/webrtc/v4"

// Tier is the coarse connection quality shown to users.
type Tier string

const (
	TierExcellent Tier = "excellent"
	TierGood      Tier = "good"
	TierFair      Tier = "fair"
	TierPoor      Tier = "poor"
)

// Path describes how media flows between the two endpoints.
type Path string

const (
	PathDirect  Path = "direct"
	PathSTUN    Path = "stun"
	PathRelay   Path = "relay"
	PathUnknown Path = "unknown"
)

// Classify maps round-trip time and packet loss to a tier. The worse metric wins.
func Classify(rttMs, lossPercent float64) Tier {
	switch {
	case rttMs > 300 || lossPercent > 5:
		return TierPoor
	case rttMs > 150 || lossPercent > 2:
		return TierFair
	case rttMs > 50 || lossPercent > 0.5:
		return TierGood
	default:
		return TierExcellent
	}
}

// ClassifyPath labels the selected candidate pair. Unrecognised combinations
// are reported as "local/remote".
func ClassifyPath(local, remote webrtc.ICECandidateType) Path {
	switch {
	case local == webrtc.ICECandidateTypeRelay || remote == webrtc.ICECandidateTypeRelay:
		return PathRelay
	case local == webrtc.ICECandidateTypeHost && remote == webrtc.ICECandidateTypeHost:
		return PathDirect
	case isReflexive(local) || isReflexive(remote):
		return PathSTUN
	default:
		return Path(local.String() + "/" + remote.String())
	}
}

func isReflexive(t webrtc.ICECandidateType) bool {
	return t == webrtc.ICECandidateTypeSrflx || t == webrtc.ICECandidateTypePrflx
}
