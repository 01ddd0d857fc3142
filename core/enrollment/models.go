package enrollment

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/cadenza/core"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

func (s Status) IsValid() bool { return s == StatusActive || s == StatusEnded }

var errEndBeforeStart = errors.New("end date cannot be before start date")

// Enrollment is a student's participation in a course, over [StartDate, EndDate].
type Enrollment struct {
	ID              string          `json:"id" db:"id"`
	StudentID       string          `json:"student_id" db:"student_id"`
	CourseID        string          `json:"course_id" db:"course_id"`
	StartDate       core.Date       `json:"start_date" db:"start_date"`
	EndDate         core.NullDate   `json:"end_date" db:"end_date"` // inclusive
	DiscountPercent decimal.Decimal `json:"discount_percent" db:"discount_percent"`
	Status          Status          `json:"status" db:"status"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"` // UTC
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"` // UTC
}

// Covers reports whether date falls within the enrollment's date range.
func (e Enrollment) Covers(date core.Date) bool {
	if date.Before(e.StartDate) {
		return false
	}
	return !e.EndDate.Valid || !date.After(e.EndDate.Date)
}

// Within clips [from, to] to the enrollment's date range; ok is false when they don't intersect.
func (e Enrollment) Within(from, to core.Date) (start, end core.Date, ok bool) {
	start, end = core.MaxDate(from, e.StartDate), to
	if e.EndDate.Valid {
		end = core.MinDate(to, e.EndDate.Date)
	}
	return start, end, !end.Before(start)
}

type NewEnrollment struct {
	StudentID       string          `json:"student_id" validate:"required,uuid"`
	CourseID        string          `json:"course_id" validate:"required,uuid"`
	StartDate       core.Date       `json:"start_date" validate:"required"`
	EndDate         core.NullDate   `json:"end_date"`
	DiscountPercent decimal.Decimal `json:"discount_percent" validate:"gte=0,lte=100"`
}

func (ne *NewEnrollment) Validate(validate *validator.Validate) error {
	if err := validate.Struct(ne); err != nil {
		return err
	}
	if ne.EndDate.Valid && ne.EndDate.Date.Before(ne.StartDate) {
		return core.NewFieldError("end_date", errEndBeforeStart)
	}
	return nil
}

type UpdateEnrollment struct {
	DiscountPercent decimal.Decimal `json:"discount_percent" validate:"gte=0,lte=100"`
}

func (ue *UpdateEnrollment) Validate(validate *validator.Validate) error {
	return validate.Struct(ue)
}

type EndEnrollment struct {
	EndDate core.Date `json:"end_date" validate:"required"`
}

func (ee *EndEnrollment) Validate(validate *validator.Validate) error {
	return validate.Struct(ee)
}

type QueryFilter struct {
	StudentID string `query:"student_id"`
	CourseID  string `query:"course_id"`
	Status    Status `query:"status"`
	// ActiveFrom & ActiveTo keep the enrollments whose date range intersects [ActiveFrom, ActiveTo].
	ActiveFrom core.Date `query:"active_from"`
	ActiveTo   core.Date `query:"active_to"`
}

func (qf *QueryFilter) Clean() {
	qf.StudentID = core.CleanString(qf.StudentID)
	qf.CourseID = core.CleanString(qf.CourseID)
	qf.Status = Status(core.CleanString(string(qf.Status), true /* lower */))
}

// Matches reports whether e passes the filter; used by stores that can't filter themselves.
func (qf *QueryFilter) Matches(e Enrollment) bool {
	if qf == nil {
		return true
	}
	if qf.StudentID != "" && e.StudentID != qf.StudentID {
		return false
	}
	if qf.CourseID != "" && e.CourseID != qf.CourseID {
		return false
	}
	if qf.Status != "" && e.Status != qf.Status {
		return false
	}
	if !qf.ActiveTo.IsZero() && e.StartDate.After(qf.ActiveTo) {
		return false
	}
	if !qf.ActiveFrom.IsZero() && e.EndDate.Valid && e.EndDate.Date.Before(qf.ActiveFrom) {
		return false
	}
	return true
}

// OrderingFields maps the API ordering fields to DB columns.
var OrderingFields = map[string]string{
	"start_date": "start_date",
	"end_date":   "end_date",
	"status":     "status",
	"created_at": "created_at",
}
