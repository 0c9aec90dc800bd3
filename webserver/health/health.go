package health

import (
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	log "github.com/iidesho/bragi/sbragi"
)

var (
	Version   string
	BuildTime string
	Name      string
)

// Check reports an error when a dependency of the service is not usable.
type Check func() error

type Health struct {
	IP     net.IP    `json:"ip"`
	Since  time.Time `json:"since"`
	checks map[string]Check
}

func Init() *Health {
	return &Health{
		IP:     GetOutboundIP(),
		Since:  time.Now(),
		checks: make(map[string]Check),
	}
}

// AddCheck registers a named check that is run for every report.
func (h *Health) AddCheck(name string, c Check) {
	h.checks[name] = c
}

type Report struct {
	Status    string            `json:"status"`
	Name      string            `json:"name"`
	Version   string            `json:"version"`
	BuildTime string            `json:"build_time"`
	IP        net.IP            `json:"ip"`
	Since     time.Time         `json:"running_since"`
	Now       time.Time         `json:"now"`
	Checks    map[string]string `json:"checks,omitempty"`
}

var ip net.IP

func GetOutboundIP() net.IP {
	if ip != nil {
		return ip
	}
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		log.WithError(err).Error("unable to get outbound ip")
		return nil
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	ip = localAddr.IP

	return ip
}

func (h *Health) GetHealthReport() Report {
	r := Report{
		Status:    "UP",
		Name:      Name,
		Version:   Version,
		BuildTime: BuildTime,
		IP:        h.IP,
		Since:     h.Since,
		Now:       time.Now(),
	}
	if len(h.checks) > 0 {
		r.Checks = make(map[string]string, len(h.checks))
	}
	for name, c := range h.checks {
		err := c()
		if err != nil {
			r.Status = "DOWN"
			r.Checks[name] = err.Error()
			continue
		}
		r.Checks[name] = "UP"
	}
	return r
}

// WriteHealthReport answers 200 when every check passes and 503 otherwise.
func (h *Health) WriteHealthReport(c *fiber.Ctx) error {
	r := h.GetHealthReport()
	status := fiber.StatusOK
	if r.Status != "UP" {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(r)
}
