package booking

import (
	"strconv"
	"strings"
)

// BookArgs are the key=value arguments of the /book command.
type BookArgs struct {
	Location string
	Nights   int
	Budget   float64
	Dates    string
}

// ParseArguments reads space separated key=value pairs. Unknown keys and
// malformed numbers are ignored.
func ParseArguments(args string) BookArgs {
	var out BookArgs
	for _, pair := range strings.Fields(args) {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		switch key {
		case "location":
			out.Location = value
		case "nights":
			if n, err := strconv.Atoi(value); err == nil {
				out.Nights = n
			}
		case "budget":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				out.Budget = f
			}
		case "dates":
			out.Dates = value
		}
	}
	return out
}

// Complete reports whether every required argument is present.
func (a BookArgs) Complete() bool {
	return a.Location != "" && a.Nights != 0 && a.Budget != 0 && a.Dates != ""
}
