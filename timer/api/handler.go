package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/Ftotnem/GO-TIMING/shared/api"
	"github.com/Ftotnem/GO-TIMING/shared/leaderboard"
	"github.com/Ftotnem/GO-TIMING/shared/models"
	"github.com/Ftotnem/GO-TIMING/timer/service"
	"github.com/Ftotnem/GO-TIMING/timer/session"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// TimerAPIHandlers exposes the TimerService over HTTP.
type TimerAPIHandlers struct {
	TimerService *service.TimerService
}

func NewTimerAPIHandlers(ts *service.TimerService) *TimerAPIHandlers {
	return &TimerAPIHandlers{TimerService: ts}
}

// serviceErrors maps service sentinels to the status clients see.
var serviceErrors = []api.ErrorStatus{
	{Err: leaderboard.ErrInvalidArgument, Status: http.StatusBadRequest},
	{Err: service.ErrCoursesReadOnly, Status: http.StatusConflict},
}

func (h *TimerAPIHandlers) writeServiceError(w http.ResponseWriter, err error, message string) {
	api.WriteServiceError(w, err, message, serviceErrors...)
}

// --- Request/Response DTOs ---

// EntityRequest is the body of /timer/join, /timer/quit, /timer/position, /timer/leave and /timer/heartbeat.
type EntityRequest struct {
	UUID     string        `json:"uuid"`
	Name     string        `json:"name,omitempty"`
	Position *models.Point `json:"position,omitempty"`
}

// DurationJSON carries a duration both as milliseconds and formatted.
type DurationJSON struct {
	Millis    int64  `json:"millis"`
	Formatted string `json:"formatted"`
}

func durationJSON(d time.Duration) DurationJSON {
	return DurationJSON{Millis: d.Milliseconds(), Formatted: models.FormatDuration(d)}
}

// EntryResponse is one leaderboard row.
type EntryResponse struct {
	Rank     int          `json:"rank"`
	UUID     string       `json:"uuid"`
	Name     string       `json:"name"`
	Duration DurationJSON `json:"duration"`
}

func entryResponse(e models.LeaderboardEntry) EntryResponse {
	return EntryResponse{Rank: e.Rank, UUID: e.Entity.String(), Name: e.Name, Duration: durationJSON(e.Duration)}
}

// LeaderboardResponse is a full course ranking.
type LeaderboardResponse struct {
	Course  string          `json:"course"`
	Entries []EntryResponse `json:"entries"`
}

// StandingResponse is an entity's best time and rank.
type StandingResponse struct {
	Course string       `json:"course"`
	UUID   string       `json:"uuid"`
	Best   DurationJSON `json:"best"`
	Rank   int          `json:"rank"`
}

// LiveResponse is the current time of a running or paused entity.
type LiveResponse struct {
	UUID    string       `json:"uuid"`
	Course  string       `json:"course,omitempty"`
	Elapsed DurationJSON `json:"elapsed"`
}

// SessionResponse is the live session, recent events and last finish of an entity.
type SessionResponse struct {
	Session *session.View      `json:"session,omitempty"`
	Last    *service.RunResult `json:"lastResult,omitempty"`
	Events  []session.Event    `json:"events"`
}

// ResetResponse reports whether an admin reset changed anything.
type ResetResponse struct {
	Course  string `json:"course"`
	UUID    string `json:"uuid,omitempty"`
	Changed bool   `json:"changed"`
}

// ArchiveResponse is what the last reset removed.
type ArchiveResponse struct {
	Course     string        `json:"course"`
	UUID       string        `json:"uuid"`
	Finished   *DurationJSON `json:"finished,omitempty"`
	Unfinished *DurationJSON `json:"unfinished,omitempty"`
	DeletedAt  time.Time     `json:"deletedAt"`
}

// CourseResponse describes a course and whether it can be run.
type CourseResponse struct {
	Key         string        `json:"key"`
	Name        string        `json:"name"`
	Configured  bool          `json:"configured"`
	Start       *models.Zone  `json:"start,omitempty"`
	End         *models.Zone  `json:"end,omitempty"`
	Checkpoints []models.Zone `json:"checkpoints,omitempty"`
}

// CourseRequest is the body of PUT /admin/courses/{course}.
type CourseRequest struct {
	Name        string        `json:"name,omitempty"`
	Start       *models.Zone  `json:"start,omitempty"`
	End         *models.Zone  `json:"end,omitempty"`
	Checkpoints []models.Zone `json:"checkpoints,omitempty"`
}

func courseResponse(c models.Course) CourseResponse {
	return CourseResponse{
		Key:         c.Key,
		Name:        c.Name,
		Configured:  c.IsConfigured(),
		Start:       c.Start,
		End:         c.End,
		Checkpoints: c.Checkpoints,
	}
}

func decodeEntity(w http.ResponseWriter, r *http.Request) (EntityRequest, uuid.UUID, bool) {
	var req EntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, "Invalid request body")
		return req, uuid.Nil, false
	}
	id, err := uuid.Parse(req.UUID)
	if err != nil {
		api.WriteBadRequest(w, "Invalid UUID format")
		return req, uuid.Nil, false
	}
	return req, id, true
}

func uuidVar(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["uuid"])
	if err != nil {
		api.WriteBadRequest(w, "Invalid UUID format")
		return uuid.Nil, false
	}
	return id, true
}

func courseVar(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := models.CourseKey(mux.Vars(r)["course"])
	if key == "" {
		api.WriteBadRequest(w, "Course is required")
		return "", false
	}
	return key, true
}

// --- Timer endpoints ---

// HandleJoin starts tracking an entity.
// POST /timer/join
// Body: { "uuid": "<uuid>", "name": "Steve", "position": {...} }
func (h *TimerAPIHandlers) HandleJoin(w http.ResponseWriter, r *http.Request) {
	req, id, ok := decodeEntity(w, r)
	if !ok {
		return
	}
	if req.Position == nil {
		api.WriteBadRequest(w, "Position is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	h.TimerService.Join(ctx, id, req.Name, *req.Position)
	api.WriteOK(w, map[string]string{"message": "Entity joined", "uuid": id.String()})
}

// HandleQuit pauses an entity's run on disconnect.
// POST /timer/quit
func (h *TimerAPIHandlers) HandleQuit(w http.ResponseWriter, r *http.Request) {
	_, id, ok := decodeEntity(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	h.TimerService.Quit(ctx, id)
	api.WriteOK(w, map[string]string{"message": "Entity quit", "uuid": id.String()})
}

// HandlePosition reports a movement.
// POST /timer/position
func (h *TimerAPIHandlers) HandlePosition(w http.ResponseWriter, r *http.Request) {
	req, id, ok := decodeEntity(w, r)
	if !ok {
		return
	}
	if req.Position == nil {
		api.WriteBadRequest(w, "Position is required")
		return
	}
	h.TimerService.UpdatePosition(id, *req.Position)
	w.WriteHeader(http.StatusNoContent)
}

// HandleHeartbeat keeps an entity's presence alive.
// POST /timer/heartbeat
func (h *TimerAPIHandlers) HandleHeartbeat(w http.ResponseWriter, r *http.Request) {
	_, id, ok := decodeEntity(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.TimerService.Heartbeat(ctx, id); err != nil {
		h.writeServiceError(w, err, "Failed to refresh presence")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleLeave cancels the entity's session.
// POST /timer/leave
func (h *TimerAPIHandlers) HandleLeave(w http.ResponseWriter, r *http.Request) {
	_, id, ok := decodeEntity(w, r)
	if !ok {
		return
	}
	course, left := h.TimerService.Leave(id)
	if !left {
		api.WriteNotFound(w, "Entity has no active session")
		return
	}
	api.WriteOK(w, map[string]string{"message": "Left course", "uuid": id.String(), "course": course})
}

// HandleLive returns the live run time.
// GET /timer/live/{uuid}?course=<course>
func (h *TimerAPIHandlers) HandleLive(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidVar(w, r)
	if !ok {
		return
	}
	course := r.URL.Query().Get("course")
	elapsed, ok := h.TimerService.LiveElapsed(id, course)
	if !ok {
		api.WriteNotFound(w, "No running or paused session")
		return
	}
	api.WriteOK(w, LiveResponse{UUID: id.String(), Course: models.CourseKey(course), Elapsed: durationJSON(elapsed)})
}

// HandleSession returns the live session, last result and recent events.
// GET /timer/session/{uuid}
func (h *TimerAPIHandlers) HandleSession(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidVar(w, r)
	if !ok {
		return
	}
	resp := SessionResponse{Events: h.TimerService.Events(id)}
	if v, ok := h.TimerService.SessionView(id); ok {
		resp.Session = &v
	}
	if res, ok := h.TimerService.LastResult(id); ok {
		resp.Last = &res
	}
	api.WriteOK(w, resp)
}

// HandleCourses lists every known course.
// GET /courses
func (h *TimerAPIHandlers) HandleCourses(w http.ResponseWriter, r *http.Request) {
	courses := h.TimerService.ListCourses()
	resp := make([]CourseResponse, 0, len(courses))
	for _, c := range courses {
		resp = append(resp, courseResponse(c))
	}
	api.WriteOK(w, resp)
}

// --- Leaderboard endpoints ---

// HandleLeaderboard returns a full ranking.
// GET /leaderboard/{course}
func (h *TimerAPIHandlers) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	course, ok := courseVar(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	entries, err := h.TimerService.Entries(ctx, course)
	if err != nil {
		h.writeServiceError(w, err, "Failed to load leaderboard")
		return
	}
	resp := LeaderboardResponse{Course: course, Entries: make([]EntryResponse, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, entryResponse(e))
	}
	api.WriteOK(w, resp)
}

// HandleTop returns the entry at a 1-based position.
// GET /leaderboard/{course}/top/{position}
func (h *TimerAPIHandlers) HandleTop(w http.ResponseWriter, r *http.Request) {
	course, ok := courseVar(w, r)
	if !ok {
		return
	}
	position, err := strconv.Atoi(mux.Vars(r)["position"])
	if err != nil || position < 1 {
		api.WriteBadRequest(w, "Position must be a positive integer")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	entry, found, err := h.TimerService.TopEntry(ctx, course, position)
	if err != nil {
		h.writeServiceError(w, err, "Failed to load leaderboard entry")
		return
	}
	if !found {
		api.WriteNotFound(w, "No entry at that position")
		return
	}
	api.WriteOK(w, entryResponse(entry))
}

// HandleStanding returns best time and rank of an entity.
// GET /leaderboard/{course}/players/{uuid}
func (h *TimerAPIHandlers) HandleStanding(w http.ResponseWriter, r *http.Request) {
	course, ok := courseVar(w, r)
	if !ok {
		return
	}
	id, ok := uuidVar(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	st, found, err := h.TimerService.Standing(ctx, course, id)
	if err != nil {
		h.writeServiceError(w, err, "Failed to load standing")
		return
	}
	if !found {
		api.WriteNotFound(w, "No best time recorded")
		return
	}
	api.WriteOK(w, StandingResponse{Course: st.Course, UUID: id.String(), Best: durationJSON(st.Best), Rank: st.Rank})
}

// --- Admin endpoints ---

// HandleResetCourse wipes a course.
// POST /admin/reset/{course}
func (h *TimerAPIHandlers) HandleResetCourse(w http.ResponseWriter, r *http.Request) {
	course, ok := courseVar(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	changed, err := h.TimerService.ResetCourse(ctx, course)
	if err != nil {
		h.writeServiceError(w, err, "Failed to reset course")
		return
	}
	api.WriteOK(w, ResetResponse{Course: course, Changed: changed})
}

// HandleResetEntity wipes one entity on a course.
// POST /admin/reset/{course}/{uuid}
func (h *TimerAPIHandlers) HandleResetEntity(w http.ResponseWriter, r *http.Request) {
	course, ok := courseVar(w, r)
	if !ok {
		return
	}
	id, ok := uuidVar(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	changed, err := h.TimerService.ResetEntity(ctx, course, id)
	if err != nil {
		h.writeServiceError(w, err, "Failed to reset entity")
		return
	}
	api.WriteOK(w, ResetResponse{Course: course, UUID: id.String(), Changed: changed})
}

// HandleArchive returns what the last reset removed.
// GET /admin/archive/{course}/{uuid}
func (h *TimerAPIHandlers) HandleArchive(w http.ResponseWriter, r *http.Request) {
	course, ok := courseVar(w, r)
	if !ok {
		return
	}
	id, ok := uuidVar(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	entry, found, err := h.TimerService.Archive(ctx, course, id)
	if err != nil {
		h.writeServiceError(w, err, "Failed to load archive")
		return
	}
	if !found {
		api.WriteNotFound(w, "No archived values")
		return
	}
	resp := ArchiveResponse{Course: course, UUID: id.String(), DeletedAt: entry.DeletedAt}
	if entry.Finished != nil {
		d := durationJSON(*entry.Finished)
		resp.Finished = &d
	}
	if entry.Unfinished != nil {
		d := durationJSON(*entry.Unfinished)
		resp.Unfinished = &d
	}
	api.WriteOK(w, resp)
}

// HandleSaveCourse creates or replaces a course.
// PUT /admin/courses/{course}
// Body: { "name": "Lava Run", "start": {...}, "end": {...}, "checkpoints": [...] }
func (h *TimerAPIHandlers) HandleSaveCourse(w http.ResponseWriter, r *http.Request) {
	key, ok := courseVar(w, r)
	if !ok {
		return
	}
	var req CourseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, "Invalid request body")
		return
	}
	name := req.Name
	if name == "" {
		name = mux.Vars(r)["course"]
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	saved, err := h.TimerService.SaveCourse(ctx, models.Course{
		Key:         key,
		Name:        name,
		Start:       req.Start,
		End:         req.End,
		Checkpoints: req.Checkpoints,
	})
	if err != nil {
		h.writeServiceError(w, err, "Failed to save course")
		return
	}
	api.WriteOK(w, courseResponse(saved))
}

// HandleDeleteCourse removes a course. Recorded times are kept.
// DELETE /admin/courses/{course}
func (h *TimerAPIHandlers) HandleDeleteCourse(w http.ResponseWriter, r *http.Request) {
	key, ok := courseVar(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	deleted, err := h.TimerService.DeleteCourse(ctx, key)
	if err != nil {
		h.writeServiceError(w, err, "Failed to delete course")
		return
	}
	if !deleted {
		api.WriteNotFound(w, "Course not found")
		return
	}
	api.WriteOK(w, map[string]string{"message": "Course deleted", "course": key})
}

// RegisterRoutes registers all API endpoints for the timer service.
func (h *TimerAPIHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/timer/join", h.HandleJoin).Methods("POST")
	router.HandleFunc("/timer/quit", h.HandleQuit).Methods("POST")
	router.HandleFunc("/timer/position", h.HandlePosition).Methods("POST")
	router.HandleFunc("/timer/heartbeat", h.HandleHeartbeat).Methods("POST")
	router.HandleFunc("/timer/leave", h.HandleLeave).Methods("POST")
	router.HandleFunc("/timer/live/{uuid}", h.HandleLive).Methods("GET")
	router.HandleFunc("/timer/session/{uuid}", h.HandleSession).Methods("GET")

	router.HandleFunc("/courses", h.HandleCourses).Methods("GET")

	router.HandleFunc("/leaderboard/{course}", h.HandleLeaderboard).Methods("GET")
	router.HandleFunc("/leaderboard/{course}/top/{position}", h.HandleTop).Methods("GET")
	router.HandleFunc("/leaderboard/{course}/players/{uuid}", h.HandleStanding).Methods("GET")

	router.HandleFunc("/admin/reset/{course}", h.HandleResetCourse).Methods("POST")
	router.HandleFunc("/admin/reset/{course}/{uuid}", h.HandleResetEntity).Methods("POST")
	router.HandleFunc("/admin/archive/{course}/{uuid}", h.HandleArchive).Methods("GET")
	router.HandleFunc("/admin/courses/{course}", h.HandleSaveCourse).Methods("PUT")
	router.HandleFunc("/admin/courses/{course}", h.HandleDeleteCourse).Methods("DELETE")
}
