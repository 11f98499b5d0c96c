package fact

import (
	"strconv"
	"strings"

	"github.com/teranos/factwire/errors"
)

// Importance ranks a transition from 1 (trivial) to 10 (urgent).
type Importance int

const (
	Trivial     Importance = 1
	Low         Importance = 2
	Minor       Importance = 3
	Moderate    Importance = 4
	Notable     Importance = 5
	Significant Importance = 6
	High        Importance = 7
	Major       Importance = 8
	Critical    Importance = 9
	Urgent      Importance = 10
)

var importanceNames = map[Importance]string{
	Trivial:     "TRIVIAL",
	Low:         "LOW",
	Minor:       "MINOR",
	Moderate:    "MODERATE",
	Notable:     "NOTABLE",
	Significant: "SIGNIFICANT",
	High:        "HIGH",
	Major:       "MAJOR",
	Critical:    "CRITICAL",
	Urgent:      "URGENT",
}

func (i Importance) String() string {
	if name, ok := importanceNames[i]; ok {
		return name
	}
	return "IMPORTANCE(" + strconv.Itoa(int(i)) + ")"
}

// Valid reports whether i is on the 1..10 scale
func (i Importance) Valid() bool {
	return i >= Trivial && i <= Urgent
}

// ParseImportance accepts a number ("7") or a name ("high", "HIGH")
func ParseImportance(s string) (Importance, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		i := Importance(n)
		if !i.Valid() {
			return 0, errors.Wrapf(errors.ErrInvalidRequest, "importance %d out of range 1..10", n)
		}
		return i, nil
	}
	upper := strings.ToUpper(s)
	for i, name := range importanceNames {
		if name == upper {
			return i, nil
		}
	}
	return 0, errors.Wrapf(errors.ErrInvalidRequest, "unknown importance %q", s)
}
