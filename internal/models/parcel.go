package models

import (
	"time"

	"github.com/BearBump/LockerBox/internal/store"
)

const (
	PaymentPrepaid  = "PREPAID"
	PaymentPayLater = "PAY_LATER"

	PaymentStatusPending   = "PENDING"
	PaymentStatusCompleted = "COMPLETED"

	ParcelAwaitingVerification = "AWAITING_VERIFICATION"
	ParcelVerified             = "VERIFIED"
	ParcelRejected             = "REJECTED"
	ParcelReady                = "READY"
	ParcelPickedUp             = "PICKED_UP"
	ParcelCompleted            = "COMPLETED"
)

// Parcel is one delivery transaction. Created by the courier drop-off,
// mutated by recipient verification, settlement and the retrieval scan;
// never deleted outside an administrative reset.
type Parcel struct {
	ID              string
	Receiver        string
	ReceiverContact string
	CourierName     string
	Amount          float64
	PaymentType     string
	PaymentStatus   string
	LockerID        int
	PhotoRef        string
	SecureToken     string
	Status          string
	CreatedAt       time.Time
}

// IsHistory reports whether a parcel belongs in the "history" projection
// rather than the "pending" one.
func (p Parcel) IsHistory() bool {
	switch p.Status {
	case ParcelPickedUp, ParcelCompleted, ParcelRejected:
		return true
	}
	return false
}

func ParcelFromDoc(id string, d store.Doc) Parcel {
	return Parcel{
		ID:              id,
		Receiver:        d.String("receiver"),
		ReceiverContact: d.String("receiver_contact"),
		CourierName:     d.String("courier_name"),
		Amount:          d.Float("amount"),
		PaymentType:     d.String("payment_type"),
		PaymentStatus:   d.String("payment_status"),
		LockerID:        d.Int("locker_id"),
		PhotoRef:        d.String("photo_ref"),
		SecureToken:     d.String("secure_token"),
		Status:          d.String("status"),
		CreatedAt:       d.Time("created_at"),
	}
}

func (p Parcel) Doc() store.Doc {
	return store.Doc{}.
		SetString("receiver", p.Receiver).
		SetString("receiver_contact", p.ReceiverContact).
		SetString("courier_name", p.CourierName).
		SetFloat("amount", p.Amount).
		SetString("payment_type", p.PaymentType).
		SetString("payment_status", p.PaymentStatus).
		SetInt("locker_id", p.LockerID).
		SetString("photo_ref", p.PhotoRef).
		SetString("secure_token", p.SecureToken).
		SetString("status", p.Status).
		SetTime("created_at", p.CreatedAt)
}
