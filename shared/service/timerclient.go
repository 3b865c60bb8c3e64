package service

import (
	"context"
	"fmt"

	"github.com/Ftotnem/GO-TIMING/shared/api"
	"github.com/google/uuid"
)

// TimerServiceClient talks to the timer service HTTP API.
type TimerServiceClient struct {
	apiClient *api.Client
}

// NewTimerClient creates a new timer service client.
func NewTimerClient(baseURL string) *TimerServiceClient {
	return &TimerServiceClient{apiClient: api.NewClient(baseURL, api.NewDefaultHTTPClient())}
}

// Duration mirrors the API's duration encoding.
type Duration struct {
	Millis    int64  `json:"millis"`
	Formatted string `json:"formatted"`
}

// Entry is one leaderboard row.
type Entry struct {
	Rank     int      `json:"rank"`
	UUID     string   `json:"uuid"`
	Name     string   `json:"name"`
	Duration Duration `json:"duration"`
}

// Leaderboard is a full course ranking.
type Leaderboard struct {
	Course  string  `json:"course"`
	Entries []Entry `json:"entries"`
}

// ResetResult reports whether a reset changed anything.
type ResetResult struct {
	Course  string `json:"course"`
	UUID    string `json:"uuid,omitempty"`
	Changed bool   `json:"changed"`
}

// Archive is what the last reset removed for an entity.
type Archive struct {
	Course     string    `json:"course"`
	UUID       string    `json:"uuid"`
	Finished   *Duration `json:"finished,omitempty"`
	Unfinished *Duration `json:"unfinished,omitempty"`
}

// Course is the summary of a course as listed by the service.
type Course struct {
	Key        string `json:"key"`
	Name       string `json:"name"`
	Configured bool   `json:"configured"`
}

// ResetCourse sends POST /admin/reset/{course}.
func (c *TimerServiceClient) ResetCourse(ctx context.Context, course string) (ResetResult, error) {
	var res ResetResult
	err := c.apiClient.Post(ctx, "/admin/reset/"+api.PathEscape(course), nil, &res)
	return res, err
}

// ResetPlayer sends POST /admin/reset/{course}/{uuid}.
func (c *TimerServiceClient) ResetPlayer(ctx context.Context, course string, id uuid.UUID) (ResetResult, error) {
	var res ResetResult
	err := c.apiClient.Post(ctx, fmt.Sprintf("/admin/reset/%s/%s", api.PathEscape(course), id), nil, &res)
	return res, err
}

// GetArchive sends GET /admin/archive/{course}/{uuid}.
func (c *TimerServiceClient) GetArchive(ctx context.Context, course string, id uuid.UUID) (Archive, error) {
	var res Archive
	err := c.apiClient.Get(ctx, fmt.Sprintf("/admin/archive/%s/%s", api.PathEscape(course), id), &res)
	return res, err
}

// GetLeaderboard sends GET /leaderboard/{course}.
func (c *TimerServiceClient) GetLeaderboard(ctx context.Context, course string) (Leaderboard, error) {
	var res Leaderboard
	err := c.apiClient.Get(ctx, "/leaderboard/"+api.PathEscape(course), &res)
	return res, err
}

// GetTopEntry sends GET /leaderboard/{course}/top/{position}.
func (c *TimerServiceClient) GetTopEntry(ctx context.Context, course string, position int) (Entry, error) {
	var res Entry
	err := c.apiClient.Get(ctx, fmt.Sprintf("/leaderboard/%s/top/%d", api.PathEscape(course), position), &res)
	return res, err
}

// ListCourses sends GET /courses.
func (c *TimerServiceClient) ListCourses(ctx context.Context) ([]Course, error) {
	var res []Course
	err := c.apiClient.Get(ctx, "/courses", &res)
	return res, err
}

// DeleteCourse sends DELETE /admin/courses/{course}.
func (c *TimerServiceClient) DeleteCourse(ctx context.Context, course string) error {
	return c.apiClient.Delete(ctx, "/admin/courses/"+api.PathEscape(course), nil)
}
