package protocol

import (
	"encoding/json"
	"time"

	"github.com/itskum47/pulsewire/realtime/topic"
)

// EventKind is the closed set of event names the server emits.
type EventKind string

const (
	EventAttendanceSessionUpdated EventKind = "attendance.session_updated"
	EventAttendanceMarked         EventKind = "attendance.marked"
	EventAttendanceSessionDeleted EventKind = "attendance.session_deleted"

	EventSubmissionStatus EventKind = "submission.status"
	EventSubmissionNew    EventKind = "submission.new_submission"

	EventTicketMessageCreated EventKind = "ticket.message_created"
	EventTicketMessageUpdated EventKind = "ticket.message_updated"
	EventTicketMessageDeleted EventKind = "ticket.message_deleted"

	EventSystemHealth EventKind = "system.health"
)

// KnownEvents lists every EventKind with a typed payload.
var KnownEvents = []EventKind{
	EventAttendanceSessionUpdated,
	EventAttendanceMarked,
	EventAttendanceSessionDeleted,
	EventSubmissionStatus,
	EventSubmissionNew,
	EventTicketMessageCreated,
	EventTicketMessageUpdated,
	EventTicketMessageDeleted,
	EventSystemHealth,
}

// Known reports whether k has a typed payload.
func (k EventKind) Known() bool {
	for _, known := range KnownEvents {
		if k == known {
			return true
		}
	}
	return false
}

// Event is a decoded event frame. Payload holds the typed payload for known
// kinds and RawPayload for anything else.
type Event struct {
	Name      string
	Kind      EventKind
	Topic     string
	Version   *uint64
	Payload   any
	Raw       json.RawMessage
	Timestamp time.Time
}

// RawPayload carries the payload of an event kind this client has no type for.
type RawPayload json.RawMessage

/* ---------- attendance ---------- */

type AttendanceSessionUpdated struct {
	SessionID       int64   `json:"session_id"`
	Title           string  `json:"title,omitempty"`
	Active          *bool   `json:"active,omitempty"`
	RotationSeconds *int64  `json:"rotation_seconds,omitempty"`
	UpdatedAt       string  `json:"updated_at,omitempty"`
	RestrictByIP    *bool   `json:"restrict_by_ip,omitempty"`
	AllowedIPPrefix *string `json:"allowed_ip_prefix,omitempty"`
}

type AttendanceMarked struct {
	SessionID int64   `json:"session_id"`
	UserID    int64   `json:"user_id"`
	TakenAt   string  `json:"taken_at"`
	Count     int64   `json:"count"`
	Method    *string `json:"method,omitempty"`
}

type AttendanceSessionDeleted struct {
	SessionID int64 `json:"session_id"`
}

/* ---------- submissions ---------- */

type SubmissionStatus struct {
	SubmissionID int64   `json:"submission_id"`
	AssignmentID int64   `json:"assignment_id,omitempty"`
	UserID       int64   `json:"user_id,omitempty"`
	Attempt      int64   `json:"attempt,omitempty"`
	Status       string  `json:"status"`
	Message      *string `json:"message,omitempty"`
	Mark         *Mark   `json:"mark,omitempty"`
}

type Mark struct {
	Earned int64 `json:"earned"`
	Total  int64 `json:"total"`
}

type SubmissionNew struct {
	SubmissionID int64  `json:"submission_id"`
	AssignmentID int64  `json:"assignment_id,omitempty"`
	UserID       int64  `json:"user_id"`
	Username     string `json:"username,omitempty"`
	Attempt      int64  `json:"attempt"`
	IsPractice   bool   `json:"is_practice,omitempty"`
	CreatedAt    string `json:"created_at,omitempty"`
}

/* ---------- tickets ---------- */

type TicketMessage struct {
	ID        int64            `json:"id"`
	TicketID  int64            `json:"ticket_id"`
	UserID    int64            `json:"user_id"`
	Content   string           `json:"content"`
	CreatedAt string           `json:"created_at,omitempty"`
	UpdatedAt string           `json:"updated_at,omitempty"`
	User      *TicketMessageBy `json:"user,omitempty"`
}

type TicketMessageBy struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type TicketMessageDeleted struct {
	ID int64 `json:"id"`
}

/* ---------- system ---------- */

type LoadAverages struct {
	One     float64 `json:"one"`
	Five    float64 `json:"five"`
	Fifteen float64 `json:"fifteen"`
}

type CodeManagerGeneral struct {
	Running int `json:"running"`
	Waiting int `json:"waiting"`
}

type CodeManagerAdmin struct {
	Running       int  `json:"running"`
	Waiting       int  `json:"waiting"`
	MaxConcurrent *int `json:"max_concurrent,omitempty"`
}

type CPUInfo struct {
	Cores    int       `json:"cores"`
	AvgUsage float32   `json:"avg_usage"`
	PerCore  []float32 `json:"per_core"`
}

type MemoryInfo struct {
	Total     uint64 `json:"total"`
	Used      uint64 `json:"used"`
	SwapTotal uint64 `json:"swap_total"`
	SwapUsed  uint64 `json:"swap_used"`
}

type DiskSummary struct {
	Name       string `json:"name"`
	Total      uint64 `json:"total"`
	Available  uint64 `json:"available"`
	FileSystem string `json:"file_system"`
	MountPoint string `json:"mount_point"`
}

type SystemHealthGeneral struct {
	TS          string             `json:"ts"`
	Load        LoadAverages       `json:"load"`
	CodeManager CodeManagerGeneral `json:"code_manager"`
}

type SystemHealthAdmin struct {
	TS            string           `json:"ts"`
	Env           string           `json:"env"`
	Host          string           `json:"host"`
	UptimeSeconds uint64           `json:"uptime_seconds"`
	Load          LoadAverages     `json:"load"`
	CPU           CPUInfo          `json:"cpu"`
	Memory        MemoryInfo       `json:"memory"`
	Disks         []DiskSummary    `json:"disks"`
	CodeManager   CodeManagerAdmin `json:"code_manager"`
}

// DecodePayload decodes raw into the payload type for kind. Health events on
// the admin topic carry the detailed admin snapshot. Unknown kinds come back
// as RawPayload.
func DecodePayload(kind EventKind, path string, raw json.RawMessage) (any, error) {
	switch kind {
	case EventAttendanceSessionUpdated:
		return decodeAs[AttendanceSessionUpdated](raw)
	case EventAttendanceMarked:
		return decodeAs[AttendanceMarked](raw)
	case EventAttendanceSessionDeleted:
		return decodeAs[AttendanceSessionDeleted](raw)
	case EventSubmissionStatus:
		return decodeAs[SubmissionStatus](raw)
	case EventSubmissionNew:
		return decodeAs[SubmissionNew](raw)
	case EventTicketMessageCreated, EventTicketMessageUpdated:
		return decodeAs[TicketMessage](raw)
	case EventTicketMessageDeleted:
		return decodeAs[TicketMessageDeleted](raw)
	case EventSystemHealth:
		if path == adminPath {
			return decodeAs[SystemHealthAdmin](raw)
		}
		return decodeAs[SystemHealthGeneral](raw)
	}
	return RawPayload(raw), nil
}

var adminPath = topic.SystemAdmin{}.Path()

func decodeAs[T any](raw json.RawMessage) (any, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
