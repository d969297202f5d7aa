package services

import (
	"context"
	"time"

	domain "github.com/TienDattttt/Retail-Chain-Management-sub000/internal/domain"
)

// SaleService persists sales on the retail back office.
type SaleService interface {
	ProcessSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResult, error)
}

// CatalogService exposes the read-only lookups the POS screen needs while building an order.
type CatalogService interface {
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	ListProductsByBranch(ctx context.Context, branchID int64) ([]domain.Product, error)
	ListCategories(ctx context.Context) ([]domain.CategoryRef, error)
	ProductInventory(ctx context.Context, branchID, productID int64) (InventoryLevel, error)
}

// InventoryLevel is the on-hand quantity of a product at a branch.
type InventoryLevel struct {
	BranchID  int64
	ProductID int64
	Quantity  int
}

// OperatorSessions resolves operator sessions from their bearer token.
type OperatorSessions interface {
	Lookup(ctx context.Context, token string) (domain.Operator, error)
}

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs fn once after d elapses.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

// SchedulerFunc adapts a function to Scheduler.
type SchedulerFunc func(d time.Duration, fn func()) Timer

// AfterFunc implements Scheduler.
func (f SchedulerFunc) AfterFunc(d time.Duration, fn func()) Timer {
	return f(d, fn)
}

// RealScheduler schedules callbacks on the runtime timer wheel.
var RealScheduler Scheduler = SchedulerFunc(func(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
})

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemService exposes health information for the operational endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (domain.SystemHealthReport, error)
}
