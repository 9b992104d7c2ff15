package intent

import (
	"fmt"
	"strconv"
	"strings"
)

func toString(v any) string {
	return fmt.Sprint(v)
}

func atoi(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
