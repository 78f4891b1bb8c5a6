package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/envvault/internal/dbx"
	"github.com/dmitrijs2005/envvault/internal/server/repositories/users"
	"github.com/dmitrijs2005/envvault/internal/server/repositories/variables"
)

// RepositoryManager vends repositories bound to a handle, so the same
// service code runs against *sql.DB or inside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Variables(db dbx.DBTX) variables.Repository
}
