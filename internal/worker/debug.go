package worker

import (
	"log"
	"os"
	"strings"
)

// LISTINGBOT_DEBUG=1 (or true) turns on per-job scheduling logs.
var debugEnabled = func() bool {
	v := strings.TrimSpace(os.Getenv("LISTINGBOT_DEBUG"))
	return v == "1" || strings.EqualFold(v, "true")
}()

func debugf(component, format string, args ...interface{}) {
	if !debugEnabled {
		return
	}
	log.Printf("["+component+"] "+format, args...)
}
