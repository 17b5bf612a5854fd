package dispatch

import "time"

func realNowNanos() int64 {
	return time.Now().UnixNano()
}
