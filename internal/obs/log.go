package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

// serviceName tags every log line so aggregated streams stay filterable.
const serviceName = "equiptrack-api"

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the shared line writer behind the JSON log helpers.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogRequest emits one JSON log line. The service, ts and level fields are
// filled in when the caller did not set them, so call sites only carry what
// varies per entry.
func LogRequest(entry map[string]any) {
	if _, ok := entry["service"]; !ok {
		entry["service"] = serviceName
	}
	if _, ok := entry["ts"]; !ok {
		entry["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if _, ok := entry["level"]; !ok {
		entry["level"] = "info"
	}
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"service":"` + serviceName + `","level":"error","msg":"log entry marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}
