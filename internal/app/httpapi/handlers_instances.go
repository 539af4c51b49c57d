package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/relaymesh/grelay/internal/app/manager"
	"github.com/relaymesh/grelay/internal/config"
)

func (s *Server) instanceResponse(id string) (InstanceResponse, error) {
	inst, err := s.mgr.Get(id)
	if err != nil {
		return InstanceResponse{}, err
	}
	conf, err := s.mgr.GetConf(id)
	if err != nil {
		return InstanceResponse{}, err
	}
	return newInstanceResponse(inst, conf.Config), nil
}

func (s *Server) listInstances(w http.ResponseWriter, r *http.Request) {
	instances := s.mgr.List()
	out := make([]InstanceResponse, 0, len(instances))
	for _, inst := range instances {
		conf, err := s.mgr.GetConf(inst.ID)
		if err != nil {
			continue
		}
		out = append(out, newInstanceResponse(inst, conf.Config))
	}
	writeJSON(w, http.StatusOK, out)
}

// createInstance implements POST /instances: a fresh id creates (201), an
// id that already exists upserts the existing instance's config (200).
func (s *Server) createInstance(w http.ResponseWriter, r *http.Request) {
	var req CreateInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_config", "malformed request body: "+err.Error())
		return
	}
	if req.ID != "" && req.ExternalID != "" && req.ID != req.ExternalID {
		writeError(w, http.StatusBadRequest, "invalid_id", "id and external_id both given and differ")
		return
	}

	conf := config.InstanceConf{
		ID:         req.ID,
		ExternalID: req.ExternalID,
		AutoStart:  req.AutoStart,
		Config:     req.EndpointConf,
	}

	ctx := r.Context()
	inst, err := s.mgr.Create(ctx, conf)
	switch {
	case err == nil:
		resp, rerr := s.instanceResponse(inst.ID)
		if rerr != nil {
			writeManagerError(w, rerr)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	case err == manager.ErrAlreadyExists:
		s.upsertInstance(w, r, conf.ID, req.EndpointConf, req.AutoStart)
	default:
		writeManagerError(w, err)
	}
}

func (s *Server) upsertInstance(w http.ResponseWriter, r *http.Request, id string, ep config.EndpointConf, autoStart bool) {
	ctx := r.Context()
	if _, err := s.mgr.Update(ctx, id, ep); err != nil {
		writeManagerError(w, err)
		return
	}
	if _, err := s.mgr.PatchAutoStart(id, autoStart); err != nil {
		writeManagerError(w, err)
		return
	}
	resp, err := s.instanceResponse(id)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getInstance(w http.ResponseWriter, r *http.Request) {
	resp, err := s.instanceResponse(r.PathValue("id"))
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) updateInstance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var ep config.EndpointConf
	if err := json.NewDecoder(r.Body).Decode(&ep); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_config", "malformed request body: "+err.Error())
		return
	}
	if _, err := s.mgr.Update(r.Context(), id, ep); err != nil {
		writeManagerError(w, err)
		return
	}
	resp, err := s.instanceResponse(id)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) patchInstance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req PatchAutoStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_config", "malformed request body: "+err.Error())
		return
	}
	if _, err := s.mgr.PatchAutoStart(id, req.AutoStart); err != nil {
		writeManagerError(w, err)
		return
	}
	resp, err := s.instanceResponse(id)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) deleteInstance(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeManagerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) startInstance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.mgr.Start(r.Context(), id); err != nil {
		writeManagerError(w, err)
		return
	}
	resp, err := s.instanceResponse(id)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) stopInstance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.mgr.Stop(r.Context(), id); err != nil {
		writeManagerError(w, err)
		return
	}
	resp, err := s.instanceResponse(id)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) restartInstance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.mgr.Restart(r.Context(), id); err != nil {
		writeManagerError(w, err)
		return
	}
	resp, err := s.instanceResponse(id)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) instanceStats(w http.ResponseWriter, r *http.Request) {
	snap, err := s.mgr.Stats(r.PathValue("id"))
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newInstanceStatsResponse(snap))
}

func (s *Server) instanceRoute(w http.ResponseWriter, r *http.Request) {
	snap, err := s.mgr.Route(r.PathValue("id"))
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newInstanceRouteResponse(snap))
}
