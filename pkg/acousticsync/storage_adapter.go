package acousticsync

import (
	"github.com/himanishpuri/AcousticSync/pkg/acousticsync/storage"
)

// NewSQLiteStore opens the SQLite alignment store at dbPath.
func NewSQLiteStore(dbPath string) (ResultStore, error) {
	db, err := storage.NewDBClientWithPath(dbPath)
	if err != nil {
		return nil, err
	}
	return db, nil
}
