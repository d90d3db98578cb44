package storage

import (
	"fmt"
)

// DatabaseType selects the SQL flavor.
type DatabaseType string

const (
	// MySQL backend
	MySQL DatabaseType = "mysql"
	// PostgreSQL backend
	PostgreSQL DatabaseType = "postgresql"
)

// DatabaseStorage is a SQL backend that can also serve history queries.
type DatabaseStorage interface {
	Backend
	Querier
	// InitDatabase creates the schema if it does not exist.
	InitDatabase() error
}

// NewDatabaseStorage builds the SQL backend for the configured type.
func NewDatabaseStorage(dbType string, dsn string) (DatabaseStorage, error) {
	switch DatabaseType(dbType) {
	case MySQL:
		return NewMySQLStorage(dsn)
	case PostgreSQL:
		return NewPostgreSQLStorage(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}
