package pricing

import (
	"context"

	"github.com/trezcool/cadenza/core"
	"github.com/trezcool/cadenza/core/enrollment"
	"github.com/trezcool/cadenza/core/student"
)

// EnrollmentPricing prices the lessons of enrollments.
type EnrollmentPricing struct {
	prices *Service
}

func NewEnrollmentPricing(prices *Service) *EnrollmentPricing {
	return &EnrollmentPricing{prices: prices}
}

// Quote returns the price of a lesson of enr, for st, on date: the course type's version valid on date,
// at the student's tier, minus the enrollment's discount.
// students whose birth date is unknown pay the adult price.
func (ep *EnrollmentPricing) Quote(ctx context.Context, enr enrollment.Enrollment, st student.Student, courseTypeID string, date core.Date, exec ...core.DBExecutor) (Quote, error) {
	ver, err := ep.prices.PriceAt(ctx, courseTypeID, date, exec...)
	if err != nil {
		return Quote{}, err
	}

	tier, base := TierAdult, ver.AdultPrice
	if age, ok := st.AgeOn(date); ok && age < ver.AdultAge {
		tier, base = TierChild, ver.ChildPrice
	}
	return Quote{
		VersionID:       ver.ID,
		Date:            date,
		Tier:            tier,
		BasePrice:       base,
		DiscountPercent: enr.DiscountPercent,
		Price:           Discount(base, enr.DiscountPercent),
	}, nil
}
