package domain

import "fmt"

type (
	// RoomKey identifies one collaboration session, derived from the plan id
	// or a local fallback identifier.
	RoomKey string

	PlanID string
)

// RoomKeyForPlan derives the canonical room key for a shared plan.
func RoomKeyForPlan(id PlanID) RoomKey {
	return RoomKey(fmt.Sprintf("plan-%s", id))
}
