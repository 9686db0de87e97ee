package canvas

import (
	"regexp"
	"strconv"
	"time"
)

// teachingPeriod identifies a semester by year and number.
type teachingPeriod struct {
	year, semester int
}

// semesterOverrides holds official teaching-period dates for terms whose
// Canvas start and end dates are known to be wrong.
var semesterOverrides = map[teachingPeriod][2]time.Time{
	{2022, 1}: {civilDate(2022, 2, 28), civilDate(2022, 6, 19)},
	{2022, 2}: {civilDate(2022, 7, 25), civilDate(2022, 11, 20)},
	{2024, 2}: {civilDate(2024, 7, 29), civilDate(2024, 11, 24)},
}

func civilDate(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var teachingPeriodPattern = regexp.MustCompile(`(\d{4})\s+Semester\s+(\d+)`)

// parseTeachingPeriod extracts the period from names like
// "2022 Semester 1".
func parseTeachingPeriod(name string) (teachingPeriod, bool) {
	m := teachingPeriodPattern.FindStringSubmatch(name)
	if m == nil {
		return teachingPeriod{}, false
	}
	y, _ := strconv.Atoi(m[1])
	s, _ := strconv.Atoi(m[2])
	return teachingPeriod{y, s}, true
}

// RectifyTerm replaces the term's dates with the official calendar when
// an override exists. The input is not modified.
func RectifyTerm(t Term) Term {
	p, ok := parseTeachingPeriod(t.Name)
	if !ok {
		return t
	}
	dates, ok := semesterOverrides[p]
	if !ok {
		return t
	}
	start, end := dates[0], dates[1]
	t.StartAt = &start
	t.EndAt = &end
	return t
}
