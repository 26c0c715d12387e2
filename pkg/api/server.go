// Package api serves the router's management HTTP interface.
//
//	GET  /api/v1/state                     engine snapshot
//	POST /api/v1/interfaces                {"port", "ip", "mac"}
//	POST /api/v1/routes                    {"prefix", "next_hop", "port"}
//	POST /api/v1/defaults                  install catch-all entries
//	GET  /api/v1/counters/{name}/{index}   {"packets", "bytes"}
//	PUT  /api/v1/pipeline                  raw pipeline config body
//	GET  /api/v1/health                    health report; 503 when critical
//	GET  /api/v1/audit                     recorded changes (?operation, ?failures, ?limit)
//	GET  /metrics                          Prometheus exposition
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/newtron-network/simplerouter/pkg/audit"
	"github.com/newtron-network/simplerouter/pkg/device"
	"github.com/newtron-network/simplerouter/pkg/health"
	"github.com/newtron-network/simplerouter/pkg/metrics"
	"github.com/newtron-network/simplerouter/pkg/router"
	"github.com/newtron-network/simplerouter/pkg/util"
)

// DefaultMaxPipelineSize bounds PUT /api/v1/pipeline bodies.
const DefaultMaxPipelineSize = 64 << 20

// Engine is the administrative surface of router.Router.
type Engine interface {
	Snapshot(ctx context.Context) (*router.State, error)
	AddInterface(ctx context.Context, port uint16, ip netip.Addr, mac net.HardwareAddr) error
	AddRoute(ctx context.Context, prefix netip.Prefix, nextHop netip.Addr, port uint16) (device.Handle, error)
	SetDefaultEntries(ctx context.Context) error
	QueryCounter(ctx context.Context, name string, index uint32) (device.Counter, error)
	UpdateConfig(ctx context.Context, buf []byte) error
}

// Server handles management requests against an Engine.
type Server struct {
	engine  Engine
	metrics *metrics.Registry
	audit   audit.Logger
	device  string
	checker *health.Checker
	target  health.Target

	// MaxPipelineSize rejects larger pipeline uploads with 413.
	MaxPipelineSize int64
}

// NewServer creates a Server for engine.
func NewServer(engine Engine) *Server {
	return &Server{
		engine:  engine,
		metrics: metrics.Get(),
		checker: health.NewChecker(),
		target:  health.Target{Engine: engine},

		MaxPipelineSize: DefaultMaxPipelineSize,
	}
}

// WithAudit records every mutating request for device in l.
func (s *Server) WithAudit(l audit.Logger, device string) *Server {
	s.audit = l
	s.device = device
	return s
}

// WithHealth serves health reports on the engine and dev, expecting holder
// to own the device binding.
func (s *Server) WithHealth(dev health.DeviceProbe, name, holder string) *Server {
	s.target = health.Target{Name: name, Holder: holder, Device: dev, Engine: s.engine}
	return s
}

// Handler returns the HTTP handler. When withMetrics is set, /metrics is
// served from the same handler.
func (s *Server) Handler(withMetrics bool) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
	}))
	r.Use(s.countRequests)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/state", s.getState)
		r.Post("/interfaces", s.postInterface)
		r.Post("/routes", s.postRoute)
		r.Post("/defaults", s.postDefaults)
		r.Get("/counters/{name}/{index}", s.getCounter)
		r.Put("/pipeline", s.putPipeline)
		r.Get("/audit", s.getAudit)
		r.Get("/health", s.getHealth)
	})
	if withMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}
	return r
}

type interfaceRequest struct {
	Port uint16 `json:"port"`
	IP   string `json:"ip"`
	MAC  string `json:"mac"`
}

type routeRequest struct {
	Prefix  string `json:"prefix"`
	NextHop string `json:"next_hop"`
	Port    uint16 `json:"port"`
}

type routeResponse struct {
	Handle device.Handle `json:"handle"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) postInterface(w http.ResponseWriter, r *http.Request) {
	var req interfaceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ip, ipErr := util.ParseIPv4(req.IP)
	mac, macErr := util.ParseMAC(req.MAC)
	v := &util.ValidationBuilder{}
	if ipErr != nil {
		v.AddErrorf("ip: %v", ipErr)
	}
	if macErr != nil {
		v.AddErrorf("mac: %v", macErr)
	}
	if err := v.Build(); err != nil {
		writeError(w, err)
		return
	}

	ev := s.begin(r, audit.OpAddInterface, strconv.Itoa(int(req.Port)))
	err := s.engine.AddInterface(r.Context(), req.Port, ip, mac)
	s.record(ev, err)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) postRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	prefix, pErr := util.ParseIPv4Prefix(req.Prefix)
	nh, nhErr := util.ParseIPv4(req.NextHop)
	v := &util.ValidationBuilder{}
	if pErr != nil {
		v.AddErrorf("prefix: %v", pErr)
	}
	if nhErr != nil {
		v.AddErrorf("next_hop: %v", nhErr)
	}
	if err := v.Build(); err != nil {
		writeError(w, err)
		return
	}

	ev := s.begin(r, audit.OpAddRoute, prefix.String())
	h, err := s.engine.AddRoute(r.Context(), prefix, nh, req.Port)
	s.record(ev, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, routeResponse{Handle: h})
}

func (s *Server) postDefaults(w http.ResponseWriter, r *http.Request) {
	ev := s.begin(r, audit.OpSetDefaults, "")
	err := s.engine.SetDefaultEntries(r.Context())
	s.record(ev, err)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getCounter(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	index, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, 32)
	if err != nil {
		writeError(w, util.NewValidationError("index must be an unsigned 32-bit integer"))
		return
	}
	c, err := s.engine.QueryCounter(r.Context(), name, uint32(index))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) putPipeline(w http.ResponseWriter, r *http.Request) {
	buf, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.MaxPipelineSize))
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
			Error: fmt.Sprintf("pipeline config exceeds %d bytes", tooLarge.Limit),
		})
		return
	}
	if err != nil {
		writeError(w, util.NewValidationError("reading body: "+err.Error()))
		return
	}
	ev := s.begin(r, audit.OpUpdateConfig, strconv.Itoa(len(buf))+" bytes")
	err = s.engine.UpdateConfig(r.Context(), buf)
	s.record(ev, err)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	report := s.checker.Run(r.Context(), s.target)
	code := http.StatusOK
	if report.Overall == health.StatusCritical {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

func (s *Server) getAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, util.NewNotFoundError("audit log", s.device))
		return
	}
	q := r.URL.Query()
	filter := audit.Filter{
		Device:      s.device,
		Operation:   q.Get("operation"),
		FailureOnly: q.Get("failures") == "true",
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			writeError(w, util.NewValidationError("limit must be a non-negative integer"))
			return
		}
		filter.Limit = n
	}
	events, err := s.audit.Query(filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// begin starts an audit event, or returns nil when auditing is off.
func (s *Server) begin(r *http.Request, op, target string) *audit.Event {
	if s.audit == nil {
		return nil
	}
	client := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		client = host
	}
	return audit.NewEvent(s.device, op).WithTarget(target).WithClient(client)
}

func (s *Server) record(ev *audit.Event, err error) {
	if ev == nil {
		return
	}
	if logErr := s.audit.Log(ev.Finish(err)); logErr != nil {
		util.WithOperation("audit").Warnf("recording %s: %v", ev.Operation, logErr)
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return util.NewValidationError("invalid request body: " + err.Error())
	}
	return nil
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, util.ErrValidationFailed):
		return http.StatusBadRequest
	case errors.Is(err, util.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, util.ErrInstall), errors.Is(err, util.ErrConfig):
		return http.StatusUnprocessableEntity
	case errors.Is(err, util.ErrDeviceBinding):
		return http.StatusBadGateway
	case errors.Is(err, util.ErrNotRunning):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		util.WithOperation("api").Errorf("%v", err)
	}
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		util.WithOperation("api").Warnf("writing response: %v", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		s.metrics.APIRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.code)).Inc()
	})
}
