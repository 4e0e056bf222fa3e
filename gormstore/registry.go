package gormstore

import (
	"fmt"
	"sync"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// DialectorOpener returns a gorm.Dialector for a DSN.
type DialectorOpener = func(dsn string) gorm.Dialector

var (
	registryMu sync.RWMutex
	drivers    = make(map[string]DialectorOpener)
)

func init() {
	Register("sqlite", sqlite.Open)
	Register("postgres", postgres.Open)
	Register("mysql", mysql.Open)
}

// Register makes a database driver available to Open under name.
func Register(name string, opener DialectorOpener) {
	registryMu.Lock()
	defer registryMu.Unlock()
	drivers[name] = opener
}

// Drivers returns the registered driver names.
func Drivers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	return names
}

// Open connects to dsn with the driver registered under name. Database
// errors are translated, so duplicate keys surface as gorm.ErrDuplicatedKey.
func Open(name, dsn string, cfg *gorm.Config) (*gorm.DB, error) {
	registryMu.RLock()
	opener, ok := drivers[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("gormstore: unknown driver %q", name)
	}

	if cfg == nil {
		cfg = &gorm.Config{}
	}
	cfg.TranslateError = true

	db, err := gorm.Open(opener(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("gormstore: open %s: %w", name, err)
	}
	return db, nil
}
