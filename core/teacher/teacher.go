package teacher

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/cadenza/core"
)

var ErrNotFound = core.NewNotFoundError("teacher")

type Teacher struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Phone       string    `json:"phone"`
	Instruments []string  `json:"instruments"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"` // UTC
	UpdatedAt   time.Time `json:"updated_at"` // UTC
}

type NewTeacher struct {
	Name        string   `json:"name" validate:"required,notblank"`
	Email       string   `json:"email" validate:"omitempty,email"`
	Phone       string   `json:"phone" validate:"omitempty,max=32"`
	Instruments []string `json:"instruments" validate:"dive,notblank"`
}

func (nt *NewTeacher) Validate(validate *validator.Validate) error {
	nt.Name = core.CleanString(nt.Name)
	nt.Email = core.CleanString(nt.Email, true /* lower */)
	nt.Phone = core.CleanString(nt.Phone)
	nt.Instruments = cleanInstruments(nt.Instruments)
	return validate.Struct(nt)
}

// UpdateTeacher defines what information may be provided to modify an existing Teacher.
// empty fields keep their current value.
type UpdateTeacher struct {
	Name        string   `json:"name"`
	Email       string   `json:"email" validate:"omitempty,email"`
	Phone       string   `json:"phone" validate:"omitempty,max=32"`
	Instruments []string `json:"instruments" validate:"omitempty,dive,notblank"`
	IsActive    *bool    `json:"is_active"`
}

func (ut *UpdateTeacher) Validate(validate *validator.Validate) error {
	ut.Name = core.CleanString(ut.Name)
	ut.Email = core.CleanString(ut.Email, true /* lower */)
	ut.Phone = core.CleanString(ut.Phone)
	if ut.Instruments != nil {
		ut.Instruments = cleanInstruments(ut.Instruments)
	}
	return validate.Struct(ut)
}

// cleanInstruments lowers & dedupes instrument names, keeping their order.
func cleanInstruments(instruments []string) []string {
	cleaned := make([]string, 0, len(instruments))
	seen := make(map[string]bool, len(instruments))
	for _, inst := range instruments {
		inst = core.CleanString(inst, true /* lower */)
		if !seen[inst] {
			seen[inst] = true
			cleaned = append(cleaned, inst)
		}
	}
	return cleaned
}

type QueryFilter struct {
	Search     string `query:"search"`
	Instrument string `query:"instrument"`
	IsActive   *bool  `query:"is_active"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Instrument = core.CleanString(qf.Instrument, true /* lower */)
}

// Matches reports whether t passes the filter; used by stores that can't filter themselves.
func (qf *QueryFilter) Matches(t Teacher) bool {
	if qf == nil {
		return true
	}
	if qf.Search != "" {
		search := strings.ToLower(qf.Search)
		if !strings.Contains(strings.ToLower(t.Name), search) && !strings.Contains(t.Email, search) {
			return false
		}
	}
	if qf.Instrument != "" {
		found := false
		for _, inst := range t.Instruments {
			if inst == qf.Instrument {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return qf.IsActive == nil || *qf.IsActive == t.IsActive
}

// OrderingFields maps the API ordering fields to DB columns.
var OrderingFields = map[string]string{
	"name":       "name",
	"email":      "email",
	"is_active":  "is_active",
	"created_at": "created_at",
}

type Repository interface {
	CreateTeacher(ctx context.Context, t Teacher, exec ...core.DBExecutor) (Teacher, error)
	GetTeacher(ctx context.Context, id string, exec ...core.DBExecutor) (Teacher, error)
	QueryTeachers(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Teacher, error)
	UpdateTeacher(ctx context.Context, t Teacher, exec ...core.DBExecutor) (Teacher, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (svc *Service) Create(ctx context.Context, nt NewTeacher) (Teacher, error) {
	now := core.NowFunc().UTC()
	return svc.repo.CreateTeacher(ctx, Teacher{
		Name:        nt.Name,
		Email:       nt.Email,
		Phone:       nt.Phone,
		Instruments: nt.Instruments,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func (svc *Service) Get(ctx context.Context, id string) (Teacher, error) {
	return svc.repo.GetTeacher(ctx, id)
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Teacher, error) {
	return svc.repo.QueryTeachers(ctx, filter, core.CleanOrdering(ordering, OrderingFields))
}

func (svc *Service) Update(ctx context.Context, t Teacher, ut UpdateTeacher) (Teacher, error) {
	if ut.Name != "" {
		t.Name = ut.Name
	}
	if ut.Email != "" {
		t.Email = ut.Email
	}
	if ut.Phone != "" {
		t.Phone = ut.Phone
	}
	if ut.Instruments != nil {
		t.Instruments = ut.Instruments
	}
	if ut.IsActive != nil {
		t.IsActive = *ut.IsActive
	}
	t.UpdatedAt = core.NowFunc().UTC()
	return svc.repo.UpdateTeacher(ctx, t)
}

// Deactivate marks the teacher inactive; their courses keep referencing them.
func (svc *Service) Deactivate(ctx context.Context, t Teacher) (Teacher, error) {
	t.IsActive = false
	t.UpdatedAt = core.NowFunc().UTC()
	return svc.repo.UpdateTeacher(ctx, t)
}
