package domain

// Roster is the authoritative participant list of a huddle.
// It is replaced wholesale on every push and never patched locally.
type Roster struct {
	RoomID       RoomID
	Participants []Participant
}

func (r Roster) Len() int { return len(r.Participants) }

func (r Roster) Contains(id UserID) bool {
	for _, p := range r.Participants {
		if p.ID == id {
			return true
		}
	}
	return false
}

// Others returns every participant except self, deduplicated by id.
func (r Roster) Others(self UserID) []Participant {
	seen := make(map[UserID]struct{}, len(r.Participants))
	out := make([]Participant, 0, len(r.Participants))
	for _, p := range r.Participants {
		if p.ID == self {
			continue
		}
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	return out
}

func (r Roster) DisplayName(id UserID) string {
	for _, p := range r.Participants {
		if p.ID == id {
			return p.DisplayName
		}
	}
	return ""
}
