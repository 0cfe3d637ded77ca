package stats

import (
	"errors"
	"sort"
	"time"

	"github.com/pion/webrtc/v4"
)

// ErrNoSelectedPair means ICE has not settled on a candidate pair yet.
var ErrNoSelectedPair = errors.New("no selected candidate pair")

type CandidatePair struct {
	ID         string  `json:"id"`
	LocalType  string  `json:"local_type"`
	RemoteType string  `json:"remote_type"`
	State      string  `json:"state"`
	Nominated  bool    `json:"nominated"`
	RTTMs      float64 `json:"rtt_ms"`
}

// Snapshot is one sample of a connection's transport statistics.
type Snapshot struct {
	RTTMs             float64         `json:"rtt_ms"`
	PacketLossPercent float64         `json:"packet_loss_percent"`
	JitterMs          float64         `json:"jitter_ms"`
	BitrateInKbps     float64         `json:"bitrate_in_kbps"`
	BitrateOutKbps    float64         `json:"bitrate_out_kbps"`
	Quality           Tier            `json:"quality"`
	Path              Path            `json:"connection_path"`
	CandidatePairs    []CandidatePair `json:"candidate_pairs"`

	// Counters of the selected pair, kept for the next bitrate delta.
	BytesReceived uint64    `json:"-"`
	BytesSent     uint64    `json:"-"`
	SampledAt     time.Time `json:"sampled_at"`
}

type rtpTotals struct {
	received uint64
	lost     int64
	jitter   float64
	rtt      float64
	seen     bool
}

// Sample derives a snapshot from report. prev is the previous snapshot of the
// same connection, or nil for the first sample, which then reports zero bitrate.
func Sample(report webrtc.StatsReport, prev *Snapshot, now time.Time) (Snapshot, error) {
	var (
		pairs      []webrtc.ICECandidatePairStats
		candidates = make(map[string]webrtc.ICECandidateType)
		inbound    rtpTotals
		remoteIn   rtpTotals
	)

	for _, s := range report {
		switch st := s.(type) {
		case webrtc.ICECandidatePairStats:
			pairs = append(pairs, st)
		case *webrtc.ICECandidatePairStats:
			pairs = append(pairs, *st)
		case webrtc.ICECandidateStats:
			candidates[st.ID] = st.CandidateType
		case *webrtc.ICECandidateStats:
			candidates[st.ID] = st.CandidateType
		case webrtc.InboundRTPStreamStats:
			inbound.add(uint64(st.PacketsReceived), int64(st.PacketsLost), st.Jitter, 0)
		case *webrtc.InboundRTPStreamStats:
			inbound.add(uint64(st.PacketsReceived), int64(st.PacketsLost), st.Jitter, 0)
		case webrtc.RemoteInboundRTPStreamStats:
			remoteIn.add(uint64(st.PacketsReceived), int64(st.PacketsLost), st.Jitter, st.RoundTripTime)
		case *webrtc.RemoteInboundRTPStreamStats:
			remoteIn.add(uint64(st.PacketsReceived), int64(st.PacketsLost), st.Jitter, st.RoundTripTime)
		}
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].ID < pairs[j].ID })
	selected, ok := selectPair(pairs)
	if !ok {
		return Snapshot{}, ErrNoSelectedPair
	}

	snap := Snapshot{
		BytesReceived: selected.BytesReceived,
		BytesSent:     selected.BytesSent,
		SampledAt:     now,
	}

	snap.RTTMs = selected.CurrentRoundTripTime * 1000
	if snap.RTTMs == 0 && remoteIn.rtt > 0 {
		snap.RTTMs = remoteIn.rtt * 1000
	}

	loss := inbound
	if !loss.seen {
		loss = remoteIn
	}
	snap.PacketLossPercent = loss.lossPercent()
	snap.JitterMs = loss.jitter * 1000

	if prev != nil {
		elapsed := now.Sub(prev.SampledAt).Seconds()
		snap.BitrateInKbps = kbps(prev.BytesReceived, selected.BytesReceived, elapsed)
		snap.BitrateOutKbps = kbps(prev.BytesSent, selected.BytesSent, elapsed)
	}

	local, lok := candidates[selected.LocalCandidateID]
	remote, rok := candidates[selected.RemoteCandidateID]
	snap.Path = PathUnknown
	if lok && rok {
		snap.Path = ClassifyPath(local, remote)
	}
	snap.Quality = Classify(snap.RTTMs, snap.PacketLossPercent)

	snap.CandidatePairs = make([]CandidatePair, 0, len(pairs))
	for _, p := range pairs {
		snap.CandidatePairs = append(snap.CandidatePairs, CandidatePair{
			ID:         p.ID,
			LocalType:  candidateName(candidates, p.LocalCandidateID),
			RemoteType: candidateName(candidates, p.RemoteCandidateID),
			State:      string(p.State),
			Nominated:  p.Nominated,
			RTTMs:      p.CurrentRoundTripTime * 1000,
		})
	}
	return snap, nil
}

func selectPair(pairs []webrtc.ICECandidatePairStats) (webrtc.ICECandidatePairStats, bool) {
	for _, p := range pairs {
		if p.Nominated && p.State == webrtc.StatsICECandidatePairStateSucceeded {
			return p, true
		}
	}
	for _, p := range pairs {
		if p.State == webrtc.StatsICECandidatePairStateSucceeded {
			return p, true
		}
	}
	return webrtc.ICECandidatePairStats{}, false
}

func (t *rtpTotals) add(received uint64, lost int64, jitter, rtt float64) {
	t.seen = true
	t.received += received
	if lost > 0 {
		t.lost += lost
	}
	if jitter > t.jitter {
		t.jitter = jitter
	}
	if rtt > t.rtt {
		t.rtt = rtt
	}
}

func (t rtpTotals) lossPercent() float64 {
	total := float64(t.received) + float64(t.lost)
	if t.received == 0 || total == 0 {
		return 0
	}
	return float64(t.lost) / total * 100
}

// kbps is zero when the counter went backwards (connection restarted) or no time passed.
func kbps(before, after uint64, elapsedSeconds float64) float64 {
	if elapsedSeconds <= 0 || after < before {
		return 0
	}
	return float64(after-before) * 8 / elapsedSeconds / 1000
}

func candidateName(candidates map[string]webrtc.ICECandidateType, id string) string {
	t, ok := candidates[id]
	if !ok {
		return string(PathUnknown)
	}
	return t.String()
}
