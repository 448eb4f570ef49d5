package topic

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidPath is returned by Parse for strings outside the grammar.
var ErrInvalidPath = errors.New("invalid topic path")

// Parse decodes a canonical path back into its descriptor. Only canonical
// spellings are accepted, so Parse(p).Path() == p for every accepted p.
func Parse(path string) (Topic, error) {
	t, err := parse(path)
	if err != nil {
		return nil, err
	}
	if t.Path() != path {
		return nil, fmt.Errorf("%w: %q is not canonical", ErrInvalidPath, path)
	}
	return t, nil
}

func parse(path string) (Topic, error) {
	switch {
	case path == "system":
		return System{}, nil
	case path == "system:admin":
		return SystemAdmin{}, nil
	case strings.HasPrefix(path, "attendance:session:"):
		sid, err := parseID(strings.TrimPrefix(path, "attendance:session:"))
		if err != nil {
			return nil, invalid(path, err)
		}
		return AttendanceSession{SessionID: sid}, nil
	case strings.HasPrefix(path, "tickets:"):
		tid, err := parseID(strings.TrimPrefix(path, "tickets:"))
		if err != nil {
			return nil, invalid(path, err)
		}
		return TicketChat{TicketID: tid}, nil
	case strings.HasPrefix(path, "assignment:"):
		return parseAssignment(path)
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
}

func parseAssignment(path string) (Topic, error) {
	rest := strings.TrimPrefix(path, "assignment:")
	idPart, suffix, ok := strings.Cut(rest, ".submissions:")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	aid, err := parseID(idPart)
	if err != nil {
		return nil, invalid(path, err)
	}
	if suffix == "staff" {
		return AssignmentSubmissionsStaff{AssignmentID: aid}, nil
	}
	if uidPart, ok := strings.CutPrefix(suffix, "user:"); ok {
		uid, err := parseID(uidPart)
		if err != nil {
			return nil, invalid(path, err)
		}
		return AssignmentSubmissionsOwner{AssignmentID: aid, UserID: uid}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
}

func parseID(s string) (int64, error) {
	if s == "" {
		return 0, errors.New("empty id")
	}
	return strconv.ParseInt(s, 10, 64)
}

func invalid(path string, err error) error {
	return fmt.Errorf("%w: %q: %v", ErrInvalidPath, path, err)
}
