// Package factory selects a store backend from configuration.
package factory

import (
	"fmt"

	"github.com/coastalguard/beacon/internal/config"
	"github.com/coastalguard/beacon/internal/database"
	"github.com/coastalguard/beacon/internal/store"
	"github.com/coastalguard/beacon/internal/store/gormstore"
	"github.com/coastalguard/beacon/internal/store/memstore"
)

// New builds the store named by store.type. The gorm backend requires a
// connected and migrated database manager; the memory backend ignores
// it and offers no durability across restarts.
func New(dbm *database.Manager) (store.Store, error) {
	historyLimit := config.GetInt("store.historyLimit")

	switch backend := config.GetString("store.type"); backend {
	case "memory":
		return memstore.New(historyLimit), nil
	case "gorm", "":
		if dbm == nil || !dbm.IsValid {
			return nil, fmt.Errorf("store.type %q requires a connected database", backend)
		}
		return gormstore.New(dbm.DB, gormstore.Config{HistoryLimit: historyLimit}), nil
	default:
		return nil, fmt.Errorf("unknown store.type %q", backend)
	}
}
