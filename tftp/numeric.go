package tftp

import (
	"strconv"
	"time"
)

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, errParseInt
	}
	return n, nil
}

func parseSeconds(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errParseInt
	}
	return time.Duration(f * float64(time.Second)), nil
}

func itoa(n int) string   { return strconv.Itoa(n) }
func itoa64(n int64) string { return strconv.FormatInt(n, 10) }

var errParseInt = &parseError{}

type parseError struct{}

func (*parseError) Error() string { return "tftp: invalid numeric option value" }
