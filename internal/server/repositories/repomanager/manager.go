package repomanager

import (
	"context"
	"database/sql"

	"github.com/dsslabs/docservice/internal/dbx"
	"github.com/dsslabs/docservice/internal/server/repositories/intents"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Intents(db dbx.DBTX) intents.Repository
}
