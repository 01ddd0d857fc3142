package schedule

import (
	"fmt"
	"strings"

	"github.com/trezcool/cadenza/core"
)

type (
	// Booking is a scheduled commitment (an enrollment, or a teacher's course) over a date range.
	// a zero StartDate or an invalid EndDate leave that end of the range open.
	Booking struct {
		EnrollmentID string
		CourseID     string
		CourseName   string
		Schedule     Schedule
		StartDate    core.Date
		EndDate      core.NullDate
	}

	Conflict struct {
		EnrollmentID string   `json:"enrollment_id,omitempty"`
		CourseID     string   `json:"course_id"`
		CourseName   string   `json:"course_name"`
		Schedule     Schedule `json:"schedule"`
	}

	// ConflictService finds overlapping lessons. It holds no state.
	ConflictService struct{}
)

func NewConflictService() ConflictService {
	return ConflictService{}
}

// Check returns a Conflict for every booking whose lessons can happen at the same time
// as candidate's, during [from, to]. An invalid `to` means the candidate never ends.
// bookings order is preserved.
func (ConflictService) Check(candidate Schedule, from core.Date, to core.NullDate, bookings []Booking) []Conflict {
	var conflicts []Conflict
	for _, b := range bookings {
		if !b.Schedule.Overlaps(candidate) || !datesIntersect(from, to, b.StartDate, b.EndDate) {
			continue
		}
		conflicts = append(conflicts, Conflict{
			EnrollmentID: b.EnrollmentID,
			CourseID:     b.CourseID,
			CourseName:   b.CourseName,
			Schedule:     b.Schedule,
		})
	}
	return conflicts
}

func datesIntersect(aStart core.Date, aEnd core.NullDate, bStart core.Date, bEnd core.NullDate) bool {
	// a starts after b ended
	if bEnd.Valid && !aStart.IsZero() && aStart.After(bEnd.Date) {
		return false
	}
	// b starts after a ended
	if aEnd.Valid && !bStart.IsZero() && bStart.After(aEnd.Date) {
		return false
	}
	return true
}

// ConflictsError turns conflicts into a validation error on field.
func ConflictsError(field string, conflicts []Conflict) error {
	descs := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		descs = append(descs, fmt.Sprintf("%s (%s)", c.CourseName, c.Schedule))
	}
	err := fmt.Errorf("schedule conflicts with: %s", strings.Join(descs, ", "))
	return core.NewFieldError(field, err)
}
