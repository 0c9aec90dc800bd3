package webserver

import (
	stdJson "encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"net/url"
	"runtime/debug"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/iidesho/bragi/sbragi"
	"github.com/iidesho/roomsync/metrics"
	"github.com/iidesho/roomsync/webserver/health"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	CONTENT_TYPE      = "Content-Type"
	CONTENT_TYPE_JSON = "application/json"
)

var json = jsoniter.Config{
	IndentionStep:                 0,
	MarshalFloatWith6Digits:       true,
	EscapeHTML:                    true,
	SortMapKeys:                   true,
	UseNumber:                     true,
	DisallowUnknownFields:         true,
	OnlyTaggedField:               true,
	ValidateJsonRawMessage:        true,
	ObjectFieldMustBeSimpleString: false,
	CaseSensitive:                 false,
}.Froze()

type Server interface {
	Base() fiber.Router
	API() fiber.Router
	App() *fiber.App
	Health() *health.Health
	Run()
	Shutdown() error
	Port() uint16
	Url() (u *url.URL)
}

type server struct {
	r      *fiber.App
	base   fiber.Router
	api    fiber.Router
	health *health.Health
	port   uint16
}

type Options struct {
	// FromBase serves the api from / instead of /{health.Name}.
	FromBase  bool
	DebugUser string
	DebugPass string
}

func Init(port uint16, opts Options) (Server, error) {
	h := health.Init()
	s := server{
		r: fiber.New(fiber.Config{
			AppName:               health.Name,
			DisableStartupMessage: true,
			JSONDecoder:           json.Unmarshal,
			JSONEncoder:           json.Marshal,
			ErrorHandler: func(c *fiber.Ctx, err error) error {
				status := http.StatusInternalServerError

				var e *fiber.Error
				if errors.As(err, &e) {
					status = e.Code
				}
				msg := map[string]interface{}{
					"status":      status,
					"status_text": http.StatusText(status),
					"error_msg":   err.Error(),
				}

				c.Set(CONTENT_TYPE, CONTENT_TYPE_JSON)
				err = c.Status(status).JSON(msg)
				if err != nil {
					return c.Status(fiber.StatusInternalServerError).
						SendString("Internal Server Error")
				}
				return nil
			},
		}),
		health: h,
		port:   port,
	}
	s.r.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))
	s.r.Use(func(c *fiber.Ctx) (err error) {
		defer func() {
			r := recover()
			if r != nil {
				sbragi.WithError(fmt.Errorf("%v", r)).Error("recovered from panic in handler",
					"path", c.Path(), "stack", string(debug.Stack()))
				err = fiber.NewError(http.StatusInternalServerError, fmt.Sprintf("recovered: %v", r))
			}
		}()
		return c.Next()
	})
	s.r.Use(cors.New())
	s.base = s.r.Group("")
	if health.Name == "" || opts.FromBase {
		s.api = s.base.Group("/")
	} else {
		s.api = s.base.Group("/" + health.Name)
	}
	s.api.Get("/health", h.WriteHealthReport)
	if metrics.Registry != nil {
		s.api.Get("/metrics", adaptor.HTTPHandler(
			promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		))
	}
	if opts.DebugUser != "" && opts.DebugPass != "" {
		dbg := s.api.Group("/debug")
		dbg.Use(basicauth.New(basicauth.Config{
			Users: map[string]string{opts.DebugUser: opts.DebugPass},
		}))
		dbg.Get("/pprof/*", func(c *fiber.Ctx) error {
			switch c.Params("*") {
			case "profile":
				return adaptor.HTTPHandlerFunc(pprof.Profile)(c)
			case "trace":
				return adaptor.HTTPHandlerFunc(pprof.Trace)(c)
			case "symbol":
				return adaptor.HTTPHandlerFunc(pprof.Symbol)(c)
			default:
				return adaptor.HTTPHandlerFunc(pprof.Index)(c)
			}
		})
	}
	return &s, nil
}

func (s *server) Base() fiber.Router {
	return s.base
}

func (s *server) API() fiber.Router {
	return s.api
}

func (s *server) App() *fiber.App {
	return s.r
}

func (s *server) Health() *health.Health {
	return s.health
}

func (s *server) Run() {
	err := s.r.Listen(fmt.Sprintf(":%d", s.Port()))
	if err != nil {
		sbragi.WithError(err).Fatal("while starting or running webserver")
	}
}

func (s *server) Shutdown() error {
	return s.r.Shutdown()
}

func (s *server) Port() uint16 {
	return s.port
}

func (s *server) Url() (u *url.URL) {
	u = &url.URL{}
	u.Scheme = "http"
	u.Host = fmt.Sprintf("%s:%d", health.GetOutboundIP(), s.Port())
	return
}

func UnmarshalBody[bodyT any](c *fiber.Ctx) (v bodyT, err error) {
	err = c.BodyParser(&v)
	var unmarshalErr *stdJson.UnmarshalTypeError
	if errors.As(err, &unmarshalErr) {
		err = fmt.Errorf(
			"wrong type provided for \"%s\" should be of type (%s) but got value {%s} after reading %d",
			unmarshalErr.Field,
			unmarshalErr.Type,
			unmarshalErr.Value,
			unmarshalErr.Offset,
		)
	}
	return
}

func ErrorResponse(c *fiber.Ctx, message string, httpStatusCode int) error {
	resp := make(map[string]string)
	resp["error"] = message
	return c.Status(httpStatusCode).JSON(resp)
}
