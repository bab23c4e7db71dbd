package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"printwatch/internal/detection"
)

type healthResponse struct {
	Status             string          `json:"status"`
	AuthRequired       bool            `json:"auth_required"`
	MonitoringSessions int             `json:"monitoring_sessions"`
	EventClients       int             `json:"event_clients"`
	Detector           *detectorHealth `json:"detector,omitempty"`
	Camera             *cameraHealth   `json:"camera,omitempty"`
}

type detectorHealth struct {
	ModelLoaded        bool     `json:"model_loaded"`
	InferenceReachable bool     `json:"inference_reachable"`
	Classes            []string `json:"classes"`
}

type cameraHealth struct {
	Available bool `json:"available"`
	Index     *int `json:"index,omitempty"`
}

// health reports "degraded" while the inference server is unreachable
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	res := healthResponse{Status: "ok", AuthRequired: s.authRequired()}
	if s.deps.Monitor != nil {
		res.MonitoringSessions = s.deps.Monitor.Active()
	}
	if s.deps.Clients != nil {
		res.EventClients = s.deps.Clients.ClientCount()
	}

	if d := s.deps.Detector; d != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		res.Detector = &detectorHealth{
			ModelLoaded:        d.IsLoaded(),
			InferenceReachable: d.Healthy(ctx),
			Classes:            classNames(d.Labels()),
		}
		if !res.Detector.InferenceReachable {
			res.Status = "degraded"
		}
	}

	if c := s.deps.Camera; c != nil {
		res.Camera = &cameraHealth{Available: c.IsAvailable()}
		if res.Camera.Available {
			index := c.Index()
			res.Camera.Index = &index
		}
	}

	s.respond(w, r, http.StatusOK, res)
}

// classNames lists the labels in class id order
func classNames(labels *detection.LabelSet) []string {
	if labels == nil {
		return []string{}
	}
	ids := make([]int, 0, len(labels.Classes))
	for id := range labels.Classes {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, labels.Classes[id])
	}
	return names
}
