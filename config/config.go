// Package config reads the daemon configuration from the environment, after
// loading local_override.properties or .env into it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/iidesho/bragi"
	"github.com/iidesho/bragi/sbragi"
	"github.com/iidesho/roomsync/token"
	"github.com/joho/godotenv"
)

const (
	BackendMemory = "memory"
	BackendStream = "stream"
	BackendBadger = "badger"
)

type Config struct {
	Name          string
	Port          uint16
	Writers       []token.WriterID
	DataDir       string
	Backend       string
	StuckAfter    time.Duration
	MetricsPush   string
	PushInterval  time.Duration
	LogDir        string
	DebugUser     string
	DebugPassword string
}

// LoadEnv loads the first of files that exists into the environment. Values
// already set in the environment win.
func LoadEnv(files ...string) {
	if len(files) == 0 {
		files = []string{"local_override.properties", ".env"}
	}
	for _, f := range files {
		err := godotenv.Load(f)
		if err == nil {
			return
		}
		sbragi.WithoutEscalation().WithError(err).Debug("loading env file", "file", f)
	}
}

// SetupLogging sends logs to files in dir when it is set.
func SetupLogging(name, dir string) error {
	if dir == "" {
		return nil
	}
	bragi.SetPrefix(name)
	handler, err := sbragi.NewHandlerInFolder(dir)
	if err != nil {
		return fmt.Errorf("setting log dir %s: %w", dir, err)
	}
	handler.MakeDefault()
	logger, err := sbragi.NewLogger(&handler)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	logger.SetDefault()
	return nil
}

func FromEnv() (Config, error) {
	c := Config{
		Name:          env("service.name", "roomsync"),
		DataDir:       env("data.dir", "data"),
		Backend:       env("membership.backend", BackendMemory),
		MetricsPush:   os.Getenv("metrics.push_url"),
		LogDir:        os.Getenv("log.dir"),
		DebugUser:     os.Getenv("debug.user"),
		DebugPassword: os.Getenv("debug.pass"),
	}
	port, err := strconv.ParseUint(env("webserver.port", "3030"), 10, 16)
	if err != nil {
		return Config{}, fmt.Errorf("webserver.port: %w", err)
	}
	c.Port = uint16(port)

	seen := make(map[token.WriterID]struct{})
	for _, w := range strings.Split(env("writers", "master"), ",") {
		w := token.WriterID(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		if !token.ValidWriterID(w) {
			return Config{}, fmt.Errorf("writers: invalid writer id %q", w)
		}
		if _, ok := seen[w]; ok {
			return Config{}, fmt.Errorf("writers: %s listed twice", w)
		}
		seen[w] = struct{}{}
		c.Writers = append(c.Writers, w)
	}
	if len(c.Writers) == 0 {
		return Config{}, fmt.Errorf("writers: at least one writer is required")
	}

	switch c.Backend {
	case BackendMemory, BackendStream, BackendBadger:
	default:
		return Config{}, fmt.Errorf("membership.backend: unknown backend %q", c.Backend)
	}

	c.StuckAfter, err = time.ParseDuration(env("allocator.stuck_after", "30s"))
	if err != nil {
		return Config{}, fmt.Errorf("allocator.stuck_after: %w", err)
	}
	if c.StuckAfter <= 0 {
		return Config{}, fmt.Errorf("allocator.stuck_after: must be positive, got %s", c.StuckAfter)
	}
	c.PushInterval, err = time.ParseDuration(env("metrics.push_interval", "15s"))
	if err != nil {
		return Config{}, fmt.Errorf("metrics.push_interval: %w", err)
	}
	if c.PushInterval <= 0 {
		return Config{}, fmt.Errorf("metrics.push_interval: must be positive, got %s", c.PushInterval)
	}
	return c, nil
}

// Path is a path inside the data dir.
func (c Config) Path(elem ...string) string {
	return filepath.Join(append([]string{c.DataDir}, elem...)...)
}

func env(key, def string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	return v
}
