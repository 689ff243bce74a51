package messages

import "time"

// SensorReport is what the embedded controller publishes for one locker:
// door contact, load cell reading, nothing more. The bridge derives
// occupancy and lifecycle completion; the firmware never writes those.
type SensorReport struct {
	LockerID    int       `json:"locker_id"`
	DoorState   string    `json:"door_state"`
	WeightGrams float64   `json:"weight_grams"`
	ReportedAt  time.Time `json:"reported_at"`
}
