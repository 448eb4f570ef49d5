package topic

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTopics() []Topic {
	return []Topic{
		System{},
		SystemAdmin{},
		AttendanceSession{SessionID: 42},
		AttendanceSession{SessionID: 4},
		TicketChat{TicketID: 5},
		TicketChat{TicketID: 42},
		AssignmentSubmissionsStaff{AssignmentID: 7},
		AssignmentSubmissionsStaff{AssignmentID: 42},
		AssignmentSubmissionsOwner{AssignmentID: 7, UserID: 3},
		AssignmentSubmissionsOwner{AssignmentID: 73, UserID: 0},
		AssignmentSubmissionsOwner{AssignmentID: 7, UserID: 30},
		TicketChat{TicketID: -1},
	}
}

func TestPathGrammar(t *testing.T) {
	cases := []struct {
		topic Topic
		want  string
	}{
		{System{}, "system"},
		{SystemAdmin{}, "system:admin"},
		{AttendanceSession{SessionID: 42}, "attendance:session:42"},
		{TicketChat{TicketID: 5}, "tickets:5"},
		{AssignmentSubmissionsStaff{AssignmentID: 9}, "assignment:9.submissions:staff"},
		{AssignmentSubmissionsOwner{AssignmentID: 9, UserID: 11}, "assignment:9.submissions:user:11"},
	}
	for _, tc := range cases {
		t.Run(tc.want, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.topic.Path())
			assert.Equal(t, tc.want, tc.topic.Path(), "encoding must be deterministic")
		})
	}
}

func TestEncodingIsInjective(t *testing.T) {
	topics := sampleTopics()
	for i, a := range topics {
		for j, b := range topics {
			if a.Path() == b.Path() {
				assert.Equal(t, a, b, "paths collide for %d and %d", i, j)
				assert.True(t, a == b)
			}
		}
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, tp := range sampleTopics() {
		got, err := Parse(tp.Path())
		require.NoError(t, err, tp.Path())
		assert.True(t, got == tp, "Parse(%q) = %#v", tp.Path(), got)
	}
}

func TestParseRejectsNonCanonical(t *testing.T) {
	for _, in := range []string{
		"",
		"systems",
		"system:admins",
		"tickets:",
		"tickets:+5",
		"tickets:05",
		"tickets:5x",
		"attendance:session:",
		"attendance:session:abc",
		"assignment:7.submissions:",
		"assignment:7.submissions:user:",
		"assignment:7.submissions:owner:3",
		"assignment:.submissions:staff",
	} {
		_, err := Parse(in)
		assert.ErrorIs(t, err, ErrInvalidPath, "input %q", in)
	}
}

func TestWireShapeMatchesServer(t *testing.T) {
	data, err := json.Marshal([]Topic{
		System{},
		AttendanceSession{SessionID: 42},
		AssignmentSubmissionsOwner{AssignmentID: 7, UserID: 3},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"kind":"system"},
		{"kind":"attendance_session","session_id":42},
		{"kind":"assignment_submissions_owner","assignment_id":7,"user_id":3}
	]`, string(data))
}

func TestListUnmarshal(t *testing.T) {
	var l List
	require.NoError(t, json.Unmarshal([]byte(`[
		{"kind":"ticket_chat","ticket_id":5},
		{"kind":"system_admin"},
		{"kind":"assignment_submissions_staff","assignment_id":9}
	]`), &l))
	assert.Equal(t, List{TicketChat{TicketID: 5}, SystemAdmin{}, AssignmentSubmissionsStaff{AssignmentID: 9}}, l)

	assert.Error(t, json.Unmarshal([]byte(`[{"kind":"ticket_chat"}]`), &l))
	assert.Error(t, json.Unmarshal([]byte(`[{"kind":"nope"}]`), &l))
}

func TestPathsDeduplicates(t *testing.T) {
	got := Paths([]Topic{TicketChat{TicketID: 5}, System{}, TicketChat{TicketID: 5}})
	assert.Equal(t, []string{"tickets:5", "system"}, got)
}
