package core

import (
	"encoding/json"
	"time"
)

// Device represents an IoT sensor or actuator installed (or waiting to
// be installed) at a parking facility. A device always has an owner;
// binding it to a parking and a specific spot is optional so hardware
// can be provisioned before physical installation.
type Device struct {
	ID              string    `json:"id" gorm:"primaryKey"`
	SerialNumber    string    `json:"serialNumber" gorm:"uniqueIndex;not null"`
	Model           string    `json:"model"`
	Type            string    `json:"type"`
	Status          string    `json:"status" gorm:"index"`
	Battery         int       `json:"battery"`
	OwnerID         string    `json:"ownerId" gorm:"index;not null"`
	ParkingID       *string   `json:"parkingId" gorm:"index"`
	ParkingSpotID   *string   `json:"parkingSpotId"`
	DeviceToken     string    `json:"deviceToken"`
	MQTTTopic       string    `json:"mqttTopic"`
	WebhookEndpoint string    `json:"webhookEndpoint"`
	LastCheckIn     time.Time `json:"lastCheckIn"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Parking represents a managed parking facility. Only the fields this
// service consumes are modeled; the facility itself is administered by
// the parking service.
type Parking struct {
	ID              string    `json:"id" gorm:"primaryKey"`
	OwnerID         string    `json:"ownerId" gorm:"index;not null"`
	Name            string    `json:"name"`
	AvailableSpaces int       `json:"availableSpaces"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// ParkingSpot represents a single space inside a parking facility.
// Availability is flipped by the telemetry cascade.
type ParkingSpot struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	ParkingID string    `json:"parkingId" gorm:"index;not null;uniqueIndex:idx_spot_parking_label"`
	Label     string    `json:"label" gorm:"uniqueIndex:idx_spot_parking_label"`
	Available bool      `json:"available"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName overrides for GORM
func (Device) TableName() string      { return "devices" }
func (Parking) TableName() string     { return "parkings" }
func (ParkingSpot) TableName() string { return "parking_spots" }

// Device statuses. Maintenance and restore set these explicitly;
// telemetry may report any status string a firmware emits.
const (
	StatusOnline      = "online"
	StatusOffline     = "offline"
	StatusMaintenance = "maintenance"
)

const (
	DeviceTypeSensor = "sensor"

	// FilterAll is the sentinel query value meaning "do not filter".
	FilterAll = "all"

	// Battery thresholds used by the KPI aggregates.
	BatteryCritical = 15
	BatteryLow      = 30
)

// UnassignedParkingName is the display name for devices without a
// resolvable parking binding.
const UnassignedParkingName = "Unassigned"

// DefaultModelName is the display model for devices that never
// reported one.
const DefaultModelName = "No model"

// DeviceFilter carries the list-endpoint query parameters.
// Zero values (and the "all" sentinel) mean "no filter".
type DeviceFilter struct {
	Type      string
	Status    string
	ParkingID string
	Query     string
	Page      int
	Size      int
}

// DeviceView is a device enriched with the related parking and spot
// names for list and detail responses.
type DeviceView struct {
	Device
	ParkingName      string  `json:"parkingName"`
	ParkingSpotLabel *string `json:"parkingSpotLabel"`
}

// DeviceList is the pagination envelope for the list endpoint.
type DeviceList struct {
	Data       []*DeviceView `json:"data"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	Size       int           `json:"size"`
	TotalPages int           `json:"totalPages"`
}

// DeviceKPIs aggregates fleet health over the caller's visible devices.
type DeviceKPIs struct {
	Total           int     `json:"total"`
	Online          int     `json:"online"`
	Offline         int     `json:"offline"`
	Maintenance     int     `json:"maintenance"`
	AverageBattery  float64 `json:"averageBattery"`
	CriticalBattery int     `json:"criticalBattery"`
	LowBattery      int     `json:"lowBattery"`
}

// CreateDeviceRequest is the payload for device creation.
type CreateDeviceRequest struct {
	SerialNumber  string  `json:"serialNumber"`
	Model         string  `json:"model"`
	Type          string  `json:"type"`
	Status        string  `json:"status"`
	ParkingID     *string `json:"parkingId"`
	ParkingSpotID *string `json:"parkingSpotId"`
}

// UpdateDeviceRequest is the partial-update payload. Nil pointers mean
// "leave unchanged". ParkingSpotID distinguishes an absent field from
// an explicit null: nil RawMessage is absent, literal "null" clears the
// spot binding.
type UpdateDeviceRequest struct {
	Model         *string         `json:"model"`
	Type          *string         `json:"type"`
	Status        *string         `json:"status"`
	ParkingSpotID json.RawMessage `json:"parkingSpotId"`
}

// SpotBinding decodes the parkingSpotId field. The second return value
// reports whether the field was present at all.
func (r *UpdateDeviceRequest) SpotBinding() (*string, bool, error) {
	if r.ParkingSpotID == nil {
		return nil, false, nil
	}
	var id *string
	if err := json.Unmarshal(r.ParkingSpotID, &id); err != nil {
		return nil, true, err
	}
	return id, true, nil
}

// BulkDeviceEntry is one device in a bulk provisioning request.
type BulkDeviceEntry struct {
	SerialNumber string `json:"serialNumber"`
	Model        string `json:"model"`
	Type         string `json:"type"`
	SpotLabel    string `json:"spotLabel"`
}

// BulkCreateRequest provisions a batch of devices under one parking.
type BulkCreateRequest struct {
	ParkingID string            `json:"parkingId"`
	Devices   []BulkDeviceEntry `json:"devices"`
}

// BulkCreateResult reports the best-effort outcome of a bulk request:
// everything that could be created, plus a warning per skipped or
// degraded entry.
type BulkCreateResult struct {
	Created  []*Device `json:"created"`
	Warnings []string  `json:"warnings"`
}

// TelemetryReport is the payload a device pushes. Pointer fields are
// optional; absent fields leave the current value untouched.
type TelemetryReport struct {
	Status    string     `json:"status"`
	Battery   *int       `json:"battery"`
	CheckedAt *time.Time `json:"checkedAt"`
	Occupied  *bool      `json:"occupied"`
}

// DeviceCredentials is returned by the token reissue endpoint.
type DeviceCredentials struct {
	Token           string `json:"token"`
	MQTTTopic       string `json:"mqttTopic"`
	WebhookEndpoint string `json:"webhookEndpoint"`
}
