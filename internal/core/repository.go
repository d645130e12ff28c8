package core

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// DeviceStore defines data access for devices.
type DeviceStore interface {
	Create(ctx context.Context, device *Device) error
	Update(ctx context.Context, device *Device) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*Device, error)
	GetBySerial(ctx context.Context, serial string) (*Device, error)
	SerialExists(ctx context.Context, serial string) (bool, error)

	// ListVisible returns the devices a user may see: devices they own
	// directly plus devices bound to any of the given parkings.
	ListVisible(ctx context.Context, ownerID string, parkingIDs []string) ([]*Device, error)
}

// ParkingStore defines data access for parking facilities.
type ParkingStore interface {
	GetByID(ctx context.Context, id string) (*Parking, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*Parking, error)
	ListAll(ctx context.Context) ([]*Parking, error)
	UpdateAvailableSpaces(ctx context.Context, parkingID string, count int) error
}

// SpotStore defines data access for parking spots.
type SpotStore interface {
	GetByID(ctx context.Context, id string) (*ParkingSpot, error)
	GetByLabel(ctx context.Context, parkingID, label string) (*ParkingSpot, error)
	ListByIDs(ctx context.Context, ids []string) ([]*ParkingSpot, error)
	Update(ctx context.Context, spot *ParkingSpot) error
	CountAvailable(ctx context.Context, parkingID string) (int, error)
}

// Stores bundles the per-entity stores behind one handle so services
// can run multi-entity writes in a single transaction.
type Stores struct {
	Devices  DeviceStore
	Parkings ParkingStore
	Spots    SpotStore

	db *gorm.DB
}

// NewStores builds gorm-backed stores sharing one database handle.
func NewStores(db *gorm.DB) *Stores {
	return &Stores{
		Devices:  &deviceStore{db: db},
		Parkings: &parkingStore{db: db},
		Spots:    &spotStore{db: db},
		db:       db,
	}
}

// NewTestStores builds a bundle around caller-supplied store
// implementations. WithTransaction runs the callback directly since
// there is no database handle to open a transaction on.
func NewTestStores(devices DeviceStore, parkings ParkingStore, spots SpotStore) *Stores {
	return &Stores{Devices: devices, Parkings: parkings, Spots: spots}
}

// WithTransaction runs fn against a transactional copy of the bundle.
func (s *Stores) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx *Stores) error) error {
	if s.db == nil {
		return fn(ctx, s)
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(ctx, NewStores(tx))
	})
}

type deviceStore struct {
	db *gorm.DB
}

func (s *deviceStore) Create(ctx context.Context, d *Device) error {
	return s.db.WithContext(ctx).Create(d).Error
}

func (s *deviceStore) Update(ctx context.Context, d *Device) error {
	return s.db.WithContext(ctx).Save(d).Error
}

func (s *deviceStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&Device{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

func (s *deviceStore) GetByID(ctx context.Context, id string) (*Device, error) {
	var d Device
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDeviceNotFound
	}
	return &d, err
}

func (s *deviceStore) GetBySerial(ctx context.Context, serial string) (*Device, error) {
	var d Device
	err := s.db.WithContext(ctx).Where("serial_number = ?", serial).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDeviceNotFound
	}
	return &d, err
}

func (s *deviceStore) SerialExists(ctx context.Context, serial string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Device{}).
		Where("serial_number = ?", serial).Count(&count).Error
	return count > 0, err
}

func (s *deviceStore) ListVisible(ctx context.Context, ownerID string, parkingIDs []string) ([]*Device, error) {
	var devices []*Device
	q := s.db.WithContext(ctx)
	if len(parkingIDs) > 0 {
		q = q.Where("owner_id = ? OR parking_id IN ?", ownerID, parkingIDs)
	} else {
		q = q.Where("owner_id = ?", ownerID)
	}
	return devices, q.Order("created_at DESC").Find(&devices).Error
}

type parkingStore struct {
	db *gorm.DB
}

func (s *parkingStore) GetByID(ctx context.Context, id string) (*Parking, error) {
	var p Parking
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrParkingNotFound
	}
	return &p, err
}

func (s *parkingStore) ListByOwner(ctx context.Context, ownerID string) ([]*Parking, error) {
	var parkings []*Parking
	err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Find(&parkings).Error
	return parkings, err
}

func (s *parkingStore) ListAll(ctx context.Context) ([]*Parking, error) {
	var parkings []*Parking
	return parkings, s.db.WithContext(ctx).Find(&parkings).Error
}

func (s *parkingStore) UpdateAvailableSpaces(ctx context.Context, parkingID string, count int) error {
	return s.db.WithContext(ctx).Model(&Parking{}).
		Where("id = ?", parkingID).Update("available_spaces", count).Error
}

type spotStore struct {
	db *gorm.DB
}

func (s *spotStore) GetByID(ctx context.Context, id string) (*ParkingSpot, error) {
	var spot ParkingSpot
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&spot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSpotNotFound
	}
	return &spot, err
}

func (s *spotStore) GetByLabel(ctx context.Context, parkingID, label string) (*ParkingSpot, error) {
	var spot ParkingSpot
	err := s.db.WithContext(ctx).
		Where("parking_id = ? AND label = ?", parkingID, label).First(&spot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSpotNotFound
	}
	return &spot, err
}

func (s *spotStore) ListByIDs(ctx context.Context, ids []string) ([]*ParkingSpot, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var spots []*ParkingSpot
	return spots, s.db.WithContext(ctx).Where("id IN ?", ids).Find(&spots).Error
}

func (s *spotStore) Update(ctx context.Context, spot *ParkingSpot) error {
	return s.db.WithContext(ctx).Save(spot).Error
}

func (s *spotStore) CountAvailable(ctx context.Context, parkingID string) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&ParkingSpot{}).
		Where("parking_id = ? AND available = ?", parkingID, true).Count(&count).Error
	return int(count), err
}
