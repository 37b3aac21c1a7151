package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the shared line-oriented logger. Everything structured in
// this service goes through it so output stays one JSON object per line.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// Emit writes one structured JSON line. A "ts" field is added when the caller
// did not set one.
func Emit(entry map[string]any) {
	if _, ok := entry["ts"]; !ok {
		entry["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"level":"error","msg":"log_marshal_failed"}`)
		return
	}
	Logger().Println(string(data))
}

// Error is shorthand for an error-level Emit with a message and cause.
func Error(msg string, cause error, fields map[string]any) {
	entry := map[string]any{
		"level": "error",
		"msg":   msg,
	}
	if cause != nil {
		entry["error"] = cause.Error()
	}
	for k, v := range fields {
		entry[k] = v
	}
	Emit(entry)
}
