package models

import (
	"fmt"
	"strings"
	"time"
)

// Coord is a WGS84 position in degrees. Values are not range checked.
type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type PinStatus string

const (
	PinAvailable PinStatus = "available"
	PinClaimed   PinStatus = "claimed"
	PinPickedUp  PinStatus = "picked_up"
	PinCompleted PinStatus = "completed"
)

// Pin is a reported bottle location.
type Pin struct {
	ID             string     `json:"id"`
	SubmissionID   string     `json:"submission_id,omitempty"`
	Location       Coord      `json:"location"`
	BottleCount    int        `json:"bottle_count"`
	EstimatedValue float64    `json:"estimated_value"`
	Status         PinStatus  `json:"status"`
	ClaimExpiry    *time.Time `json:"claim_expiry,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ImageURL       string     `json:"image_url,omitempty"`
}

type TravelMode string

const (
	Driving   TravelMode = "driving"
	Walking   TravelMode = "walking"
	Bicycling TravelMode = "bicycling"
)

// ParseTravelMode accepts the provider names case-insensitively; empty means driving.
func ParseTravelMode(s string) (TravelMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "driving":
		return Driving, nil
	case "walking":
		return Walking, nil
	case "bicycling":
		return Bicycling, nil
	default:
		return "", fmt.Errorf("unknown travel mode %q", s)
	}
}

type NavigationStep struct {
	Instruction     string  `json:"instruction"`
	DistanceMeters  float64 `json:"distance_m"`
	DurationSeconds float64 `json:"duration_s"`
	Start           Coord   `json:"start"`
	End             Coord   `json:"end"`
	Maneuver        string  `json:"maneuver,omitempty"`
}

// Route is immutable once produced; a new request supersedes it.
type Route struct {
	DistanceMeters  float64          `json:"distance_m"`
	DurationMinutes float64          `json:"duration_min"`
	Polyline        []Coord          `json:"polyline"`
	Steps           []NavigationStep `json:"steps"`
}

// Place is a places-lookup candidate, used for depots.
type Place struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
	Address    string `json:"address,omitempty"`
	Location   Coord  `json:"location"`
}

type EventType string

const (
	EventAccepted     EventType = "accepted"
	EventTransition   EventType = "transition"
	EventStepAdvanced EventType = "step_advanced"
	EventRouteUpdated EventType = "route_updated"
	EventCountdown    EventType = "countdown"
	EventCompleted    EventType = "completed"
	EventCancelled    EventType = "cancelled"
	EventExpired      EventType = "expired"
)

// Event is what a collector session publishes to its sinks.
type Event struct {
	Type             EventType `json:"type"`
	SessionID        string    `json:"session_id"`
	CollectorID      string    `json:"collector_id,omitempty"`
	PinID            string    `json:"pin_id"`
	SubmissionID     string    `json:"submission_id,omitempty"`
	PinLocation      *Coord    `json:"pin_location,omitempty"`
	State            string    `json:"state"`
	At               time.Time `json:"at"`
	DistanceMeters   *float64  `json:"distance_m,omitempty"`
	RemainingSeconds *int      `json:"remaining_s,omitempty"`
	StepIndex        *int      `json:"step_index,omitempty"`
	DepotID          string    `json:"depot_id,omitempty"`
	Error            string    `json:"error,omitempty"`
}

// Terminal reports whether the event ends a session.
func (e Event) Terminal() bool {
	switch e.Type {
	case EventCompleted, EventCancelled, EventExpired:
		return true
	}
	return false
}

// PickupRecord is the audit row of one claim.
type PickupRecord struct {
	SessionID    string
	CollectorID  string
	PinID        string
	SubmissionID string
	State        string
	DepotID      string
	ClaimedAt    time.Time
	FinishedAt   *time.Time
}
