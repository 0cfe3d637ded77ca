package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
)

const DefaultSTUNURL = "stun:stun.l.google.com:19302"

func DefaultICEServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{
		{
			URLs: []string{DefaultSTUNURL},
		},
	}
}

// StaticICE serves a configured server list that can be swapped at runtime.
type StaticICE struct {
	mu      sync.RWMutex
	servers []webrtc.ICEServer
}

func NewStaticICE(servers []webrtc.ICEServer) (*StaticICE, error) {
	s := &StaticICE{}
	if err := s.Set(servers); err != nil {
		return nil, err
	}
	return s, nil
}

// Set validates and replaces the server list. An invalid list leaves the old one in place.
func (s *StaticICE) Set(servers []webrtc.ICEServer) error {
	for i, srv := range servers {
		if err := ValidateICEServer(srv); err != nil {
			return fmt.Errorf("ice server %d: %w", i, err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers = append([]webrtc.ICEServer(nil), servers...)
	return nil
}

func (s *StaticICE) ICEServers(context.Context) ([]webrtc.ICEServer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]webrtc.ICEServer(nil), s.servers...), nil
}

type iceServerJSON struct {
	URLs       stringOrStringSlice `json:"urls"`
	Username   string              `json:"username,omitempty"`
	Credential string              `json:"credential,omitempty"`
}

type stringOrStringSlice []string

func (s *stringOrStringSlice) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*s = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// ParseICEServersJSON parses the RTCIceServer JSON shape; urls may be a string or a list.
func ParseICEServersJSON(raw string) ([]webrtc.ICEServer, error) {
	var servers []iceServerJSON
	if err := json.Unmarshal([]byte(raw), &servers); err != nil {
		return nil, err
	}
	out := make([]webrtc.ICEServer, 0, len(servers))
	for i, server := range servers {
		s := NewICEServer(server.URLs, server.Username, server.Credential)
		if err := ValidateICEServer(s); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// ResolveICEServers returns the servers parsed from raw, or list when raw is blank.
func ResolveICEServers(raw string, list []webrtc.ICEServer) ([]webrtc.ICEServer, error) {
	if strings.TrimSpace(raw) == "" {
		return list, nil
	}
	return ParseICEServersJSON(raw)
}

// NewICEServer trims the inputs and drops empty urls.
func NewICEServer(urls []string, username, credential string) webrtc.ICEServer {
	s := webrtc.ICEServer{Username: strings.TrimSpace(username)}
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			s.URLs = append(s.URLs, u)
		}
	}
	if strings.TrimSpace(credential) != "" {
		s.Credential = credential
	}
	return s
}

// ValidateICEServer checks every url parses and that TURN entries carry credentials.
func ValidateICEServer(server webrtc.ICEServer) error {
	if len(server.URLs) == 0 {
		return errors.New("missing urls")
	}
	requiresTurnCreds := false
	for _, raw := range server.URLs {
		uri, err := stun.ParseURI(raw)
		if err != nil {
			return fmt.Errorf("url %q: %w", raw, err)
		}
		if uri.Scheme == stun.SchemeTypeTURN || uri.Scheme == stun.SchemeTypeTURNS {
			requiresTurnCreds = true
		}
	}
	if requiresTurnCreds {
		if server.Username == "" {
			return errors.New("turn urls require username")
		}
		cred, ok := server.Credential.(string)
		if !ok || strings.TrimSpace(cred) == "" {
			return errors.New("turn urls require credential")
		}
	}
	return nil
}
