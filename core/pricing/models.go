package pricing

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/trezcool/cadenza/core"
)

var hundred = decimal.NewFromInt(100)

// Version is the price list of a course type over [ValidFrom, ValidTo).
type Version struct {
	ID           string          `json:"id" db:"id"`
	CourseTypeID string          `json:"course_type_id" db:"course_type_id"`
	ChildPrice   decimal.Decimal `json:"child_price" db:"child_price"`
	AdultPrice   decimal.Decimal `json:"adult_price" db:"adult_price"`
	AdultAge     int             `json:"adult_age" db:"adult_age"`
	ValidFrom    core.Date       `json:"valid_from" db:"valid_from"`
	ValidTo      core.NullDate   `json:"valid_to" db:"valid_to"` // exclusive
	IsCurrent    bool            `json:"is_current" db:"is_current"`
	Note         string          `json:"note" db:"note"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"` // UTC
}

// Covers reports whether the version applies on date.
func (v Version) Covers(date core.Date) bool {
	if date.Before(v.ValidFrom) {
		return false
	}
	return !v.ValidTo.Valid || date.Before(v.ValidTo.Date)
}

type NewVersion struct {
	ChildPrice decimal.Decimal `json:"child_price" validate:"gte=0"`
	AdultPrice decimal.Decimal `json:"adult_price" validate:"gte=0"`
	AdultAge   int             `json:"adult_age" validate:"required,min=1,max=99"`
	ValidFrom  core.Date       `json:"valid_from" validate:"required"`
	Note       string          `json:"note" validate:"max=255"`
}

func (nv *NewVersion) Validate(validate *validator.Validate) error {
	nv.ChildPrice = core.RoundMoney(nv.ChildPrice)
	nv.AdultPrice = core.RoundMoney(nv.AdultPrice)
	nv.Note = core.CleanString(nv.Note)
	return validate.Struct(nv)
}

type Tier string

const (
	TierChild Tier = "child"
	TierAdult Tier = "adult"
)

// Quote is the price of one lesson of an enrollment on a given date.
type Quote struct {
	VersionID       string          `json:"version_id"`
	Date            core.Date       `json:"date"`
	Tier            Tier            `json:"tier"`
	BasePrice       decimal.Decimal `json:"base_price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Price           decimal.Decimal `json:"price"`
}

// Discount applies a percentage discount to price, rounded to cents.
func Discount(price, percent decimal.Decimal) decimal.Decimal {
	return core.RoundMoney(price.Mul(hundred.Sub(percent)).Div(hundred))
}
