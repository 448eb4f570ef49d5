package topic

import (
	"encoding/json"
	"fmt"
)

// wireTopic is the server's representation: an object tagged by "kind".
type wireTopic struct {
	Kind         Kind   `json:"kind"`
	SessionID    *int64 `json:"session_id,omitempty"`
	TicketID     *int64 `json:"ticket_id,omitempty"`
	AssignmentID *int64 `json:"assignment_id,omitempty"`
	UserID       *int64 `json:"user_id,omitempty"`
}

func (t System) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireTopic{Kind: KindSystem})
}

func (t SystemAdmin) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireTopic{Kind: KindSystemAdmin})
}

func (t AttendanceSession) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireTopic{Kind: KindAttendanceSession, SessionID: &t.SessionID})
}

func (t TicketChat) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireTopic{Kind: KindTicketChat, TicketID: &t.TicketID})
}

func (t AssignmentSubmissionsStaff) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireTopic{Kind: KindAssignmentSubmissionsStaff, AssignmentID: &t.AssignmentID})
}

func (t AssignmentSubmissionsOwner) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireTopic{
		Kind:         KindAssignmentSubmissionsOwner,
		AssignmentID: &t.AssignmentID,
		UserID:       &t.UserID,
	})
}

// Unmarshal decodes one kind-tagged topic object.
func Unmarshal(data []byte) (Topic, error) {
	var w wireTopic
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode topic: %w", err)
	}

	need := func(name string, v *int64) (int64, error) {
		if v == nil {
			return 0, fmt.Errorf("topic kind %q: missing %s", w.Kind, name)
		}
		return *v, nil
	}

	switch w.Kind {
	case KindSystem:
		return System{}, nil
	case KindSystemAdmin:
		return SystemAdmin{}, nil
	case KindAttendanceSession:
		sid, err := need("session_id", w.SessionID)
		if err != nil {
			return nil, err
		}
		return AttendanceSession{SessionID: sid}, nil
	case KindTicketChat:
		tid, err := need("ticket_id", w.TicketID)
		if err != nil {
			return nil, err
		}
		return TicketChat{TicketID: tid}, nil
	case KindAssignmentSubmissionsStaff:
		aid, err := need("assignment_id", w.AssignmentID)
		if err != nil {
			return nil, err
		}
		return AssignmentSubmissionsStaff{AssignmentID: aid}, nil
	case KindAssignmentSubmissionsOwner:
		aid, err := need("assignment_id", w.AssignmentID)
		if err != nil {
			return nil, err
		}
		uid, err := need("user_id", w.UserID)
		if err != nil {
			return nil, err
		}
		return AssignmentSubmissionsOwner{AssignmentID: aid, UserID: uid}, nil
	}
	return nil, fmt.Errorf("unknown topic kind %q", w.Kind)
}

// List is a slice of topics that can be decoded from JSON.
type List []Topic

func (l *List) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(List, 0, len(raw))
	for _, r := range raw {
		t, err := Unmarshal(r)
		if err != nil {
			return err
		}
		out = append(out, t)
	}
	*l = out
	return nil
}

// Paths encodes the list, dropping repeats.
func (l List) Paths() []string { return Paths(l) }
