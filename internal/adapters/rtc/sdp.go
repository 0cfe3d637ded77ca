package rtc

import (
	"fmt"

	"github.com/dkeye/huddle/internal/core"
	"github.com/pion/sdp/v3"
)

// ValidateSDP rejects descriptions that do not parse.
func ValidateSDP(raw string) error {
	_, err := parseSDP(raw)
	return err
}

// AudioSections counts the audio m-lines of raw.
func AudioSections(raw string) (int, error) {
	sd, err := parseSDP(raw)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, md := range sd.MediaDescriptions {
		if md.MediaName.Media == "audio" {
			n++
		}
	}
	return n, nil
}

func parseSDP(raw string) (*sdp.SessionDescription, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", core.ErrInvalidSDP)
	}
	sd := &sdp.SessionDescription{}
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidSDP, err)
	}
	return sd, nil
}
