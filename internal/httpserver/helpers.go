package httpserver

import "strconv"

func parseQueryInt64(v string) (int64, error) {
	return strconv.ParseInt(v, 10, 64)
}
