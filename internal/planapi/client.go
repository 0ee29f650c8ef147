// Package planapi wraps the external itinerary CRUD service. Only the
// request/response shapes the room layer depends on live here; persistence
// and conflict resolution belong to the remote service.
package planapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dayplan-app/waypoint/internal/domain"
)

type Place struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Address   string  `json:"address,omitempty"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Day       int     `json:"day"`
	SortOrder int     `json:"sortOrder"`
	Memo      string  `json:"memo,omitempty"`
}

type Plan struct {
	ID        domain.PlanID `json:"id"`
	Title     string        `json:"title"`
	StartDate string        `json:"startDate"`
	EndDate   string        `json:"endDate"`
	Members   []PlanMember  `json:"members"`
	Places    []Place       `json:"places"`
}

type PlanMember struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"profileImage,omitempty"`
}

// Service is what the room layer consumes; the HTTP client below is the
// production implementation.
type Service interface {
	FetchPlan(ctx context.Context, id domain.PlanID) (*Plan, error)
	FetchSharedPlan(ctx context.Context, token string) (*Plan, error)
	CreatePlace(ctx context.Context, id domain.PlanID, p Place) (*Place, error)
	UpdatePlace(ctx context.Context, id domain.PlanID, p Place) error
	DeletePlace(ctx context.Context, id domain.PlanID, placeID string) error
	ReorderPlaces(ctx context.Context, id domain.PlanID, day int, orderedIDs []string) error
}

type Client struct {
	base  string
	token string
	http  *http.Client
}

func NewClient(base, token string) *Client {
	return &Client{
		base:  base,
		token: token,
		http:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body *bytes.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) FetchPlan(ctx context.Context, id domain.PlanID) (*Plan, error) {
	var plan Plan
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/plans/%s", id), nil, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

func (c *Client) FetchSharedPlan(ctx context.Context, token string) (*Plan, error) {
	var plan Plan
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/shared/%s", token), nil, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

func (c *Client) CreatePlace(ctx context.Context, id domain.PlanID, p Place) (*Place, error) {
	var created Place
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/plans/%s/places", id), p, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) UpdatePlace(ctx context.Context, id domain.PlanID, p Place) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/plans/%s/places/%s", id, p.ID), p, nil)
}

func (c *Client) DeletePlace(ctx context.Context, id domain.PlanID, placeID string) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/plans/%s/places/%s", id, placeID), nil, nil)
}

func (c *Client) ReorderPlaces(ctx context.Context, id domain.PlanID, day int, orderedIDs []string) error {
	req := struct {
		Day   int      `json:"day"`
		Order []string `json:"order"`
	}{Day: day, Order: orderedIDs}
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/plans/%s/places/order", id), req, nil)
}
