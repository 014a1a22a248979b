package api

import "github.com/samcharles93/waypoint/internal/scenario"

// PlanRequest carries one scenario or a batch of scenarios sharing shapes.
type PlanRequest struct {
	Scenario   *scenario.Scenario   `json:"scenario,omitempty"`
	Scenarios  []*scenario.Scenario `json:"scenarios,omitempty"`
	PredLength int                  `json:"pred_length,omitempty"`
	// Store defaults to true. Unstored plans are returned but not retrievable.
	Store *bool `json:"store,omitempty"`
}

type Plan struct {
	ID              string    `json:"id"`
	Object          string    `json:"object"`
	CreatedAt       int64     `json:"created_at"`
	Model           string    `json:"model"`
	PredLength      int       `json:"pred_length"`
	KeyPointIndices []int     `json:"key_point_indices,omitempty"`
	Rows            []PlanRow `json:"rows"`
}

// PlanRow holds one scenario's key points and dense trajectory. Each point
// is (x, y) or (x, y, 0, yaw) when yaw is predicted.
type PlanRow struct {
	Scenario   string      `json:"scenario,omitempty"`
	KeyPoints  [][]float32 `json:"key_points"`
	Trajectory [][]float32 `json:"trajectory"`
}

type DeletePlanResp struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

type PlanList struct {
	Object string `json:"object"`
	Data   []Plan `json:"data"`
}

type LayoutSegment struct {
	Name      string `json:"name"`
	Start     int    `json:"start"`
	Stride    int    `json:"stride"`
	SubTokens int    `json:"sub_tokens"`
	Count     int    `json:"count"`
}

type LayoutResponse struct {
	Object        string          `json:"object"`
	Segments      []LayoutSegment `json:"segments"`
	ContextLength int             `json:"context_length"`
	ExtraTokens   int             `json:"extra_tokens"`
	KeyPointStart int             `json:"key_point_start"`
	KeyPoints     int             `json:"key_points"`
	PredStart     int             `json:"pred_start"`
	PredLength    int             `json:"pred_length"`
	Total         int             `json:"total"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Model   string `json:"model"`
	Version string `json:"version"`
}

type ResponseError struct {
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}
