package grammar

import (
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// DateRange is an inclusive [Start, End] pair of calendar dates, rendered
// "start..end", used by the usage-report instructions.
type DateRange struct {
	Start time.Time
	End   time.Time
}

func (r DateRange) String() string {
	return r.Start.Format(dateLayout) + ".." + r.End.Format(dateLayout)
}

// ParseDateRange parses the "start..end" form.
func ParseDateRange(s string) (DateRange, error) {
	parts := strings.SplitN(s, "..", 2)
	if len(parts) != 2 {
		return DateRange{}, New(KindParse, "invalid date range %q: expected start..end", s)
	}
	start, err := time.Parse(dateLayout, parts[0])
	if err != nil {
		return DateRange{}, Wrap(KindParse, err, "invalid start date %q", parts[0])
	}
	end, err := time.Parse(dateLayout, parts[1])
	if err != nil {
		return DateRange{}, Wrap(KindParse, err, "invalid end date %q", parts[1])
	}
	return DateRange{Start: start, End: end}, nil
}
