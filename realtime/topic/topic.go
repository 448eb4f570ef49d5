// Package topic encodes structured topic descriptors into the canonical path
// strings used as registry keys and wire identifiers.
//
// The grammar mirrors the server's encoding exactly:
//
//	system
//	system:admin
//	attendance:session:<id>
//	tickets:<id>
//	assignment:<id>.submissions:staff
//	assignment:<id>.submissions:user:<user_id>
package topic

import "strconv"

// Kind names a topic variant. The values match the server's "kind" tag.
type Kind string

const (
	KindSystem                     Kind = "system"
	KindSystemAdmin                Kind = "system_admin"
	KindAttendanceSession          Kind = "attendance_session"
	KindTicketChat                 Kind = "ticket_chat"
	KindAssignmentSubmissionsStaff Kind = "assignment_submissions_staff"
	KindAssignmentSubmissionsOwner Kind = "assignment_submissions_owner"
)

// Topic is a closed set of stream descriptors. Implementations are
// comparable value types, so == is structural equality.
type Topic interface {
	Kind() Kind
	Path() string
	sealed()
}

// System is the stream every authenticated user may follow.
type System struct{}

// SystemAdmin is the admin-only system stream.
type SystemAdmin struct{}

// AttendanceSession streams attendance activity for one session.
type AttendanceSession struct {
	SessionID int64
}

// TicketChat streams messages on one ticket.
type TicketChat struct {
	TicketID int64
}

// AssignmentSubmissionsStaff is the staff aggregate of an assignment's
// submissions.
type AssignmentSubmissionsStaff struct {
	AssignmentID int64
}

// AssignmentSubmissionsOwner is one user's view of their own submissions.
type AssignmentSubmissionsOwner struct {
	AssignmentID int64
	UserID       int64
}

func (System) Kind() Kind                     { return KindSystem }
func (SystemAdmin) Kind() Kind                { return KindSystemAdmin }
func (AttendanceSession) Kind() Kind          { return KindAttendanceSession }
func (TicketChat) Kind() Kind                 { return KindTicketChat }
func (AssignmentSubmissionsStaff) Kind() Kind { return KindAssignmentSubmissionsStaff }
func (AssignmentSubmissionsOwner) Kind() Kind { return KindAssignmentSubmissionsOwner }

func (System) Path() string      { return "system" }
func (SystemAdmin) Path() string { return "system:admin" }

func (t AttendanceSession) Path() string {
	return "attendance:session:" + id(t.SessionID)
}

func (t TicketChat) Path() string {
	return "tickets:" + id(t.TicketID)
}

func (t AssignmentSubmissionsStaff) Path() string {
	return "assignment:" + id(t.AssignmentID) + ".submissions:staff"
}

func (t AssignmentSubmissionsOwner) Path() string {
	return "assignment:" + id(t.AssignmentID) + ".submissions:user:" + id(t.UserID)
}

func (System) sealed()                     {}
func (SystemAdmin) sealed()                {}
func (AttendanceSession) sealed()          {}
func (TicketChat) sealed()                 {}
func (AssignmentSubmissionsStaff) sealed() {}
func (AssignmentSubmissionsOwner) sealed() {}

func id(v int64) string { return strconv.FormatInt(v, 10) }

// Paths encodes topics in order, dropping repeated paths.
func Paths(topics []Topic) []string {
	seen := make(map[string]struct{}, len(topics))
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		p := t.Path()
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
