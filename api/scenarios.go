/*
scenarios.go - Demo scenario endpoints

PURPOSE:
  Lets a manager list the built-in demo scenarios and load one. Loading is
  additive: accounts whose email already exists are skipped, nothing is
  reset.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "demo"}

	Every demo account logs in with travel.DemoPassword.

SEE ALSO:
  - travel/scenarios.go: Scenario definitions and seeding
*/
package api

import (
	"net/http"

	"github.com/warp/travel-engine/travel"
)

// ListScenarios returns all available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(travel.Scenarios))
	for i, s := range travel.Scenarios {
		dtos[i] = ScenarioDTO{ID: s.ID, Name: s.Name, Description: s.Description}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// LoadScenario seeds a scenario and returns the accounts it created.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	created, err := h.Engine.LoadScenario(r.Context(), actorFrom(r), req.ScenarioID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	users := make([]UserDTO, len(created))
	for i, u := range created {
		users[i] = toUserDTO(u)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"scenario": req.ScenarioID,
		"created":  users,
	})
}
