package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/chrissnell/telematics/internal/constants"
	"github.com/chrissnell/telematics/internal/dispatcher"
	"github.com/chrissnell/telematics/internal/sources"
	"github.com/chrissnell/telematics/internal/storage"
	"github.com/chrissnell/telematics/internal/types"
	"github.com/gorilla/mux"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// AlertsResponse is the body of /alerts
type AlertsResponse struct {
	Count  int           `json:"count"`
	Total  uint64        `json:"total"`
	Alerts []types.Alert `json:"alerts"`
}

// AvgSpeedSummary describes the average speeds of the buffered average-speed
// violations
type AvgSpeedSummary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Max    float64 `json:"max"`
}

// StatsResponse is the body of /stats
type StatsResponse struct {
	Pipeline dispatcher.Stats                 `json:"pipeline"`
	Sources  map[string]sources.StatsSnapshot `json:"sources"`
	AvgSpeed AvgSpeedSummary                  `json:"avgspeed"`
}

// HealthResponse is the body of /health
type HealthResponse struct {
	Service string                        `json:"service"`
	Version string                        `json:"version"`
	Status  string                        `json:"status"`
	Engines map[string]storage.HealthData `json:"engines"`
}

// GetAlerts lists recent alerts, optionally filtered by kind (path or
// ?kind=) and capped with ?limit=
func (c *Controller) GetAlerts(w http.ResponseWriter, req *http.Request) {
	f, err := parseFilter(req)
	if err != nil {
		c.formatter.WriteError(w, req, http.StatusBadRequest, err.Error())
		return
	}
	c.writeAlerts(w, req, f)
}

// GetVehicleAlerts lists recent alerts for one vehicle
func (c *Controller) GetVehicleAlerts(w http.ResponseWriter, req *http.Request) {
	f, err := parseFilter(req)
	if err != nil {
		c.formatter.WriteError(w, req, http.StatusBadRequest, err.Error())
		return
	}

	id, err := strconv.Atoi(mux.Vars(req)["id"])
	if err != nil || id < 0 {
		c.formatter.WriteError(w, req, http.StatusBadRequest, "invalid vehicle id")
		return
	}
	f.VehicleID = id
	c.writeAlerts(w, req, f)
}

func (c *Controller) writeAlerts(w http.ResponseWriter, req *http.Request, f Filter) {
	alerts := c.recent.List(f)
	resp := AlertsResponse{Count: len(alerts), Total: c.recent.Total(), Alerts: alerts}
	if err := c.formatter.WriteResponse(w, req, http.StatusOK, resp); err != nil {
		c.logger.Errorf("error writing alerts response: %v", err)
	}
}

// GetStats reports pipeline counters, per-source parse counters and a
// summary of the buffered average-speed violations
func (c *Controller) GetStats(w http.ResponseWriter, req *http.Request) {
	resp := StatsResponse{
		Sources:  make(map[string]sources.StatsSnapshot, len(c.sources)),
		AvgSpeed: summarizeAvgSpeed(c.recent.List(Filter{Kind: types.AvgSpeedAlertKind})),
	}
	if c.pipeline != nil {
		resp.Pipeline = c.pipeline.Stats()
	}
	for _, s := range c.sources {
		resp.Sources[s.SourceName()] = s.Stats()
	}

	if err := c.formatter.WriteResponse(w, req, http.StatusOK, resp); err != nil {
		c.logger.Errorf("error writing stats response: %v", err)
	}
}

// GetHealth reports every storage engine's last known health. Any unhealthy
// engine turns the response into a 503.
func (c *Controller) GetHealth(w http.ResponseWriter, req *http.Request) {
	engines := c.health.GetAllHealth()
	resp := HealthResponse{
		Service: constants.ServiceName,
		Version: constants.Version,
		Status:  storage.StatusHealthy,
		Engines: engines,
	}

	code := http.StatusOK
	for _, h := range engines {
		if h.Status != storage.StatusHealthy {
			resp.Status = storage.StatusUnhealthy
			code = http.StatusServiceUnavailable
		}
	}

	if err := c.formatter.WriteResponse(w, req, code, resp); err != nil {
		c.logger.Errorf("error writing health response: %v", err)
	}
}

func parseFilter(req *http.Request) (Filter, error) {
	var f Filter

	kind := mux.Vars(req)["kind"]
	if kind == "" {
		kind = req.URL.Query().Get("kind")
	}
	if kind != "" {
		k, ok := types.ParseAlertKind(kind)
		if !ok {
			return f, fmt.Errorf("unknown alert kind %q", kind)
		}
		f.Kind = k
	}

	if v := req.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return f, fmt.Errorf("invalid limit %q", v)
		}
		f.Limit = limit
	}
	return f, nil
}

func summarizeAvgSpeed(alerts []types.Alert) AvgSpeedSummary {
	speeds := make([]float64, 0, len(alerts))
	for _, a := range alerts {
		if a.AvgSpeed != nil {
			speeds = append(speeds, a.AvgSpeed.AverageSpeed)
		}
	}
	if len(speeds) == 0 {
		return AvgSpeedSummary{}
	}

	s := AvgSpeedSummary{Count: len(speeds), Max: floats.Max(speeds)}
	if len(speeds) == 1 {
		s.Mean = speeds[0]
		return s
	}
	s.Mean, s.StdDev = stat.MeanStdDev(speeds, nil)
	return s
}
