package appointmentsync

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/mitchellh/mapstructure"
)

// DateLayout is the wire format for date keys and range bounds.
const DateLayout = "2006-01-02"

// MaxRangeDays bounds a single sync. Every day in a range is overwritten, so
// longer backfills have to be split by the caller.
const MaxRangeDays = 31

// DateRange is an inclusive range of calendar days.
type DateRange struct {
	FromDate string `json:"fromDate" mapstructure:"fromDate"`
	ToDate   string `json:"toDate" mapstructure:"toDate"`
}

// SingleDay reports whether the range covers exactly one date.
func (r DateRange) SingleDay() bool {
	return r.FromDate == r.ToDate
}

// Days lists every date key in the range, in order. The range must already
// be validated.
func (r DateRange) Days() []string {
	from, errFrom := time.Parse(DateLayout, r.FromDate)
	to, errTo := time.Parse(DateLayout, r.ToDate)
	if errFrom != nil || errTo != nil || from.After(to) {
		return nil
	}
	var days []string
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		days = append(days, d.Format(DateLayout))
	}
	return days
}

// Contains reports whether day falls inside the range.
func (r DateRange) Contains(day string) bool {
	return day >= r.FromDate && day <= r.ToDate
}

func (r DateRange) String() string {
	if r.SingleDay() {
		return r.FromDate
	}
	return r.FromDate + ".." + r.ToDate
}

// ResolveRange turns a caller override into a validated range. override may
// be nil (today in loc), a YYYY-MM-DD string, a DateRange, a *DateRange, or a
// map with fromDate and toDate.
func ResolveRange(override any, now time.Time, loc *time.Location) (DateRange, error) {
	var r DateRange
	switch v := override.(type) {
	case nil:
		today := now.In(loc).Format(DateLayout)
		return DateRange{FromDate: today, ToDate: today}, nil
	case string:
		r = DateRange{FromDate: v, ToDate: v}
	case DateRange:
		r = v
	case *DateRange:
		if v == nil {
			return ResolveRange(nil, now, loc)
		}
		r = *v
	case map[string]string:
		r = DateRange{FromDate: v["fromDate"], ToDate: v["toDate"]}
	case map[string]any:
		if err := mapstructure.Decode(v, &r); err != nil {
			return DateRange{}, fmt.Errorf("%w: date range object: %v", ErrValidation, err)
		}
	default:
		return DateRange{}, fmt.Errorf("%w: unsupported date override of type %T", ErrValidation, override)
	}

	r.FromDate = strings.TrimSpace(r.FromDate)
	r.ToDate = strings.TrimSpace(r.ToDate)
	from, err := parseDay("fromDate", r.FromDate)
	if err != nil {
		return DateRange{}, err
	}
	to, err := parseDay("toDate", r.ToDate)
	if err != nil {
		return DateRange{}, err
	}
	if from.After(to) {
		return DateRange{}, fmt.Errorf("%w: fromDate %s is after toDate %s", ErrValidation, r.FromDate, r.ToDate)
	}
	if days := int(to.Sub(from).Hours()/24) + 1; days > MaxRangeDays {
		return DateRange{}, fmt.Errorf("%w: range %s..%s spans %d days, max %d", ErrValidation, r.FromDate, r.ToDate, days, MaxRangeDays)
	}
	return r, nil
}

func parseDay(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required", ErrValidation, field)
	}
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s %q must be YYYY-MM-DD", ErrValidation, field, value)
	}
	return t, nil
}
