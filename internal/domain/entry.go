package domain

import "time"

// EntryStatus is the state of a vehicle entry record.
type EntryStatus string

const (
	EntryStatusParked    EntryStatus = "parked"
	EntryStatusRetrieved EntryStatus = "retrieved"
)

// VehicleEntry is one visit of a vehicle to a tenant's lot. ExitTime is nil
// while the vehicle is still parked.
type VehicleEntry struct {
	ID         string
	TenantID   string
	Plate      string
	Model      string
	Color      string
	ClientName string
	SpotNumber string
	Status     EntryStatus
	EntryTime  time.Time
	ExitTime   *time.Time
	CreatedAt  time.Time
}

// EntryRepository exposes the tenant-scoped queries the report aggregator
// needs over vehicle-entry history. Entry/exit registration itself is owned
// by the mobile backend; Create exists for seeding and tests.
type EntryRepository interface {
	Create(entry *VehicleEntry) error
	CountParked(tenantID string) (int, error)
	CountDistinctPlates(tenantID string, from, to time.Time) (int, error)
	EntriesBetween(tenantID string, from, to time.Time) ([]*VehicleEntry, error)
	ExitsBetween(tenantID string, from, to time.Time) ([]*VehicleEntry, error)
	ListParked(tenantID string) ([]*VehicleEntry, error)
	RecentEntries(tenantID string, from, to time.Time, limit int) ([]*VehicleEntry, error)
	EntryTimeBounds(tenantID string) (first, last *time.Time, err error)
}
