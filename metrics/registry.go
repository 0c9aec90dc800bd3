package metrics

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/iidesho/bragi/sbragi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	log      = sbragi.WithLocalScope(sbragi.LevelInfo)
	Registry *prometheus.Registry
)

func Init() {
	Registry = prometheus.NewRegistry()
}

// Register adds c to the registry. A collector that is already registered is
// returned instead so that packages can be initialised more than once.
func Register[C prometheus.Collector](c C) (C, error) {
	if Registry == nil {
		return c, nil
	}
	err := Registry.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, err
}

// Push pushes the registry to a pushgateway every interval until ctx is done.
func Push(ctx context.Context, url, job string, interval time.Duration) {
	pusher := push.New(url, job).Gatherer(Registry)
	hn, err := os.Hostname()
	if !log.WithError(err).Error("getting hostname for metrics push") {
		pusher = pusher.Grouping("instance", hn)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.WithError(pusher.PushContext(ctx)).Warning("pushing metrics", "url", url)
		}
	}
}
