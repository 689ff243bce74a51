package models

import "github.com/BearBump/LockerBox/internal/store"

const (
	LockCommandLocked   = "LOCKED"
	LockCommandUnlocked = "UNLOCKED"

	DoorClosed = "CLOSED"
	DoorOpen   = "OPEN"

	SecuritySecure = "SECURE"
	SecurityBreach = "BREACH"

	LifecycleAvailable   = "AVAILABLE"
	LifecycleDroppingOff = "DROPPING_OFF"
	LifecyclePickingUp   = "PICKING_UP"

	DeliveryStandby              = "STANDBY"
	DeliveryAwaitingConfirmation = "AWAITING_CONFIRMATION"
	DeliveryRejected             = "REJECTED"
	DeliveryCompleted            = "COMPLETED"
)

// RenderState is the state a UI shows for a locker. It is recomputed on
// every observation, never stored (see DeriveState).
const (
	RenderBreach      = "BREACH"
	RenderDroppingOff = "DROPPING_OFF"
	RenderSecured     = "SECURED"
	RenderAvailable   = "AVAILABLE"
)

// UISession is the in-progress delivery/retrieval interaction mirrored on
// the monitor terminal. Optional fields are nil when no cycle is running.
type UISession struct {
	DeliveryStatus    string
	RiderName         *string
	RiderContact      *string
	RecipientIdentity *string
	IsConfirmed       bool
	ReadyToScan       bool
	MonitorToken      *string
}

type Locker struct {
	ID             int
	LockCommand    string
	DoorState      string
	IsOccupied     bool
	WeightGrams    float64
	SecurityStatus string
	LEDOn          bool
	BuzzerAlarm    bool
	Lifecycle      string
	UISession      UISession
}

// DeriveState applies the strict render precedence: breach overrides
// everything, then an active drop-off, then occupancy, then available.
func DeriveState(l Locker) string {
	switch {
	case l.SecurityStatus == SecurityBreach:
		return RenderBreach
	case l.Lifecycle == LifecycleDroppingOff:
		return RenderDroppingOff
	case l.IsOccupied:
		return RenderSecured
	default:
		return RenderAvailable
	}
}

func LockerFromDoc(id int, d store.Doc) Locker {
	return Locker{
		ID:             id,
		LockCommand:    d.String("lock_command"),
		DoorState:      d.String("door_state"),
		IsOccupied:     d.Bool("is_occupied"),
		WeightGrams:    d.Float("weight_status"),
		SecurityStatus: d.String("security_status"),
		LEDOn:          d.Bool("led_state"),
		BuzzerAlarm:    d.Bool("buzzer_alarm"),
		Lifecycle:      d.String("state"),
		UISession: UISession{
			DeliveryStatus:    d.String("ui_session/delivery_status"),
			RiderName:         d.StringPtr("ui_session/rider_name"),
			RiderContact:      d.StringPtr("ui_session/rider_contact"),
			RecipientIdentity: d.StringPtr("ui_session/recipient_identity"),
			IsConfirmed:       d.Bool("ui_session/is_confirmed"),
			ReadyToScan:       d.Bool("ui_session/ready_to_scan"),
			MonitorToken:      d.StringPtr("ui_session/monitor_qr_token"),
		},
	}
}

func (l Locker) Doc() store.Doc {
	return store.Doc{}.
		SetString("lock_command", l.LockCommand).
		SetString("door_state", l.DoorState).
		SetBool("is_occupied", l.IsOccupied).
		SetFloat("weight_status", l.WeightGrams).
		SetString("security_status", l.SecurityStatus).
		SetBool("led_state", l.LEDOn).
		SetBool("buzzer_alarm", l.BuzzerAlarm).
		SetString("state", l.Lifecycle).
		SetString("ui_session/delivery_status", l.UISession.DeliveryStatus).
		SetStringPtr("ui_session/rider_name", l.UISession.RiderName).
		SetStringPtr("ui_session/rider_contact", l.UISession.RiderContact).
		SetStringPtr("ui_session/recipient_identity", l.UISession.RecipientIdentity).
		SetBool("ui_session/is_confirmed", l.UISession.IsConfirmed).
		SetBool("ui_session/ready_to_scan", l.UISession.ReadyToScan).
		SetStringPtr("ui_session/monitor_qr_token", l.UISession.MonitorToken)
}

// CanonicalSafeLocker is the administrative-reset document: locked, closed,
// empty, secure, idle session.
func CanonicalSafeLocker(id int) Locker {
	return Locker{
		ID:             id,
		LockCommand:    LockCommandLocked,
		DoorState:      DoorClosed,
		IsOccupied:     false,
		WeightGrams:    0,
		SecurityStatus: SecuritySecure,
		LEDOn:          false,
		BuzzerAlarm:    false,
		Lifecycle:      LifecycleAvailable,
		UISession:      UISession{DeliveryStatus: DeliveryStandby},
	}
}
