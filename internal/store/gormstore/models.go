// Package gormstore implements store.Store on top of gorm.io/gorm, backed by
// an embedded SQLite database. A single mutex serializes every write so the
// "latest result per (proxy, check)" view stays well-defined even though
// SQLite itself only allows one writer at a time.
package gormstore

import (
	"time"

	"gorm.io/gorm"
)

// proxyModel mirrors types.Proxy for gorm's auto-migration.
type proxyModel struct {
	ID           uint   `gorm:"primarykey"`
	Host         string `gorm:"index:idx_proxy_unique,unique"`
	Port         int    `gorm:"index:idx_proxy_unique,unique"`
	Protocol     string `gorm:"index:idx_proxy_unique,unique"`
	RecheckEvery *int
	CreatedAt    time.Time

	Checks []checkDefModel `gorm:"many2many:proxy_checks;"`
}

func (proxyModel) TableName() string { return "proxies" }

// checkDefModel mirrors types.CheckDefinition. XPathAsserts is stored as a
// JSON-encoded column since gorm has no native slice-of-struct scalar type.
// Name is a *string, not string: the zero value of a plain string column is
// '' for every row, which a unique index treats as one more collision-prone
// value, but a nil column is exempt from SQLite's unique-index comparison
// (NULL is never equal to NULL) — so nameless checks can coexist.
type checkDefModel struct {
	ID             uint    `gorm:"primarykey"`
	Name           *string `gorm:"index:idx_check_name,unique"`
	URL            string
	ExpectedStatus string // JSON array of int
	XPathAsserts   string // JSON array of {xpath,type}
	Timeout        int
	Netloc         string
	Canonical      string `gorm:"index:idx_check_canonical,unique"`
}

func (checkDefModel) TableName() string { return "check_definitions" }

// proxyCheckModel mirrors types.ProxyCheck, the many2many join row.
type proxyCheckModel struct {
	ProxyID uint `gorm:"primarykey"`
	CheckID uint `gorm:"primarykey"`
}

func (proxyCheckModel) TableName() string { return "proxy_checks" }

// checkResultModel mirrors types.CheckResult, append-only.
type checkResultModel struct {
	ID       uint `gorm:"primarykey"`
	ProxyID  uint `gorm:"index:idx_result_lookup"`
	CheckID  uint `gorm:"index:idx_result_lookup"`
	IsPassed bool
	IsBanned bool
	Status   *int
	Time     float64
	Error    *string
	DoneAt   time.Time `gorm:"index:idx_result_lookup,sort:desc"`
}

func (checkResultModel) TableName() string { return "check_results" }

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(&proxyModel{}, &checkDefModel{}, &proxyCheckModel{}, &checkResultModel{})
}
