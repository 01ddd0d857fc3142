package course

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/cadenza/core"
	"github.com/trezcool/cadenza/core/schedule"
)

type CourseType struct {
	ID            string    `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	Description   string    `json:"description" db:"description"`
	LessonMinutes int       `json:"lesson_minutes" db:"lesson_minutes"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"` // UTC
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"` // UTC
}

type NewCourseType struct {
	Name          string `json:"name" validate:"required,notblank,max=100"`
	Description   string `json:"description"`
	LessonMinutes int    `json:"lesson_minutes" validate:"required,min=5,max=480"`
}

func (nct *NewCourseType) Validate(validate *validator.Validate) error {
	nct.Name = core.CleanString(nct.Name)
	nct.Description = core.CleanString(nct.Description)
	return validate.Struct(nct)
}

type UpdateCourseType struct {
	Name          string  `json:"name" validate:"omitempty,max=100"`
	Description   *string `json:"description"`
	LessonMinutes int     `json:"lesson_minutes" validate:"omitempty,min=5,max=480"`
}

func (uct *UpdateCourseType) Validate(validate *validator.Validate) error {
	uct.Name = core.CleanString(uct.Name)
	if uct.Description != nil {
		desc := core.CleanString(*uct.Description)
		uct.Description = &desc
	}
	return validate.Struct(uct)
}

// Course is a recurring group of lessons of a CourseType, given by a teacher.
type Course struct {
	ID           string      `json:"id" db:"id"`
	CourseTypeID string      `json:"course_type_id" db:"course_type_id"`
	TeacherID    null.String `json:"teacher_id" db:"teacher_id"`
	Name         string      `json:"name" db:"name"`
	schedule.Schedule
	Room      string    `json:"room" db:"room"`
	Capacity  int       `json:"capacity" db:"capacity"` // 0: unlimited
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"` // UTC
}

// Lessons returns the dates of the course's lessons in [from, to].
func (c Course) Lessons(from, to core.Date) []core.Date {
	return c.Schedule.LessonDates(from, to)
}

// HasRoom reports whether another student can join, given the current active enrollments count.
func (c Course) HasRoom(enrolled int) bool {
	return c.Capacity == 0 || enrolled < c.Capacity
}

type NewCourse struct {
	CourseTypeID string            `json:"course_type_id" validate:"required,uuid"`
	TeacherID    string            `json:"teacher_id" validate:"omitempty,uuid"`
	Name         string            `json:"name" validate:"required,notblank,max=100"`
	Schedule     schedule.Schedule `json:"schedule"`
	Room         string            `json:"room" validate:"max=50"`
	Capacity     int               `json:"capacity" validate:"min=0"`
}

func (nc *NewCourse) Validate(validate *validator.Validate) error {
	nc.Name = core.CleanString(nc.Name)
	nc.Room = core.CleanString(nc.Room)
	if err := validate.Struct(nc); err != nil {
		return err
	}
	return nc.Schedule.Validate()
}

// UpdateCourse defines what information may be provided to modify an existing Course.
// empty fields keep their current value; Schedule is replaced as a whole.
type UpdateCourse struct {
	TeacherID *string            `json:"teacher_id" validate:"omitempty,uuid"`
	Name      string             `json:"name" validate:"omitempty,max=100"`
	Schedule  *schedule.Schedule `json:"schedule"`
	Room      *string            `json:"room" validate:"omitempty,max=50"`
	Capacity  *int               `json:"capacity" validate:"omitempty,min=0"`
	IsActive  *bool              `json:"is_active"`
}

func (uc *UpdateCourse) Validate(validate *validator.Validate) error {
	uc.Name = core.CleanString(uc.Name)
	if uc.Room != nil {
		room := core.CleanString(*uc.Room)
		uc.Room = &room
	}
	if uc.TeacherID != nil && *uc.TeacherID == "" {
		uc.TeacherID = nil
	}
	if err := validate.Struct(uc); err != nil {
		return err
	}
	if uc.Schedule != nil {
		return uc.Schedule.Validate()
	}
	return nil
}

func (uc UpdateCourse) apply(c Course) Course {
	if uc.TeacherID != nil {
		c.TeacherID = null.StringFrom(*uc.TeacherID)
	}
	if uc.Name != "" {
		c.Name = uc.Name
	}
	if uc.Schedule != nil {
		c.Schedule = *uc.Schedule
	}
	if uc.Room != nil {
		c.Room = *uc.Room
	}
	if uc.Capacity != nil {
		c.Capacity = *uc.Capacity
	}
	if uc.IsActive != nil {
		c.IsActive = *uc.IsActive
	}
	return c
}

type QueryFilter struct {
	Search       string            `query:"search"`
	CourseTypeID string            `query:"course_type_id"`
	TeacherID    string            `query:"teacher_id"`
	Weekday      *schedule.Weekday `query:"weekday"`
	IsActive     *bool             `query:"is_active"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.CourseTypeID = core.CleanString(qf.CourseTypeID)
	qf.TeacherID = core.CleanString(qf.TeacherID)
}

// OrderingFields maps the API ordering fields to DB columns.
var (
	OrderingFields = map[string]string{
		"name":       "name",
		"weekday":    "weekday",
		"start_time": "start_time",
		"room":       "room",
		"created_at": "created_at",
	}
	CourseTypeOrderingFields = map[string]string{
		"name":           "name",
		"lesson_minutes": "lesson_minutes",
		"created_at":     "created_at",
	}
)
