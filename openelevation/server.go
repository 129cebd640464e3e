package openelevation

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/twpayne/go-heightmap"
)

const DefaultMaxLocations = 1000

var lookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "heightmap_lookup_requests_total",
	Help: "The total number of lookup requests served, by status code",
}, []string{"code"})

type handler struct {
	service      heightmap.ElevationService
	maxLocations int
	rps          float64
	logger       *zap.Logger
}

// A HandlerOption sets an option on a handler.
type HandlerOption func(*handler)

// WithMaxLocations sets the maximum number of locations in a single request.
func WithMaxLocations(maxLocations int) HandlerOption {
	return func(h *handler) {
		h.maxLocations = maxLocations
	}
}

// WithRateLimit limits the handler to rps lookup requests per second. Zero
// means no limit.
func WithRateLimit(rps float64) HandlerOption {
	return func(h *handler) {
		h.rps = rps
	}
}

func WithLogger(logger *zap.Logger) HandlerOption {
	return func(h *handler) {
		h.logger = logger
	}
}

// NewHandler returns an http.Handler that serves the Open-Elevation lookup
// API from service, plus /healthz and /metrics.
func NewHandler(service heightmap.ElevationService, options ...HandlerOption) http.Handler {
	h := &handler{
		service:      service,
		maxLocations: DefaultMaxLocations,
		logger:       zap.NewNop(),
	}
	for _, option := range options {
		option(h)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	lookup := r.Group(lookupPath)
	if h.rps > 0 {
		lookup.Use(rateLimitMiddleware(h.rps))
	}
	lookup.GET("", h.getLookup)
	lookup.POST("", h.postLookup)
	return r
}

func rateLimitMiddleware(rps float64) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
	return func(c *gin.Context) {
		if !limiter.Allow() {
			lookupsTotal.WithLabelValues("429").Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// getLookup handles GET requests with locations encoded as
// lat,lon|lat,lon|...
func (h *handler) getLookup(c *gin.Context) {
	locations := c.Query("locations")
	if locations == "" {
		h.abort(c, http.StatusBadRequest, errors.New("missing locations"))
		return
	}
	var coords []heightmap.LatLon
	for _, s := range strings.Split(locations, "|") {
		coord, err := heightmap.ParseLatLon(s)
		if err != nil {
			h.abort(c, http.StatusBadRequest, err)
			return
		}
		coords = append(coords, coord)
	}
	h.lookup(c, coords)
}

func (h *handler) postLookup(c *gin.Context) {
	var lookupRequest LookupRequest
	if err := c.ShouldBindJSON(&lookupRequest); err != nil {
		h.abort(c, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	if lookupRequest.Locations == nil {
		h.abort(c, http.StatusBadRequest, errors.New("missing locations"))
		return
	}
	h.lookup(c, lookupRequest.coords())
}

func (h *handler) lookup(c *gin.Context, coords []heightmap.LatLon) {
	if h.maxLocations > 0 && len(coords) > h.maxLocations {
		h.abort(c, http.StatusBadRequest, fmt.Errorf("%d locations exceeds maximum of %d", len(coords), h.maxLocations))
		return
	}
	elevations, err := h.service.Elevations(c.Request.Context(), coords)
	if err == nil && len(elevations) != len(coords) {
		err = fmt.Errorf("got %d elevations, expected %d", len(elevations), len(coords))
	}
	if err != nil {
		h.logger.Error("lookup failed", zap.Int("locations", len(coords)), zap.Error(err))
		h.abort(c, http.StatusInternalServerError, errors.New("lookup failed"))
		return
	}
	lookupsTotal.WithLabelValues("200").Inc()
	c.JSON(http.StatusOK, newLookupResponse(coords, elevations))
}

func (h *handler) abort(c *gin.Context, code int, err error) {
	lookupsTotal.WithLabelValues(fmt.Sprint(code)).Inc()
	c.AbortWithStatusJSON(code, errorResponse{Error: err.Error()})
}
