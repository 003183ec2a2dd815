//go:build !sqlite

package store

import (
	"context"

	"github.com/turtacn/molgfn/internal/domain/experiment"
	"github.com/turtacn/molgfn/internal/infrastructure/database/sqlstore"
	"github.com/turtacn/molgfn/pkg/errors"
)

func newSQLiteStore(context.Context, string, ...sqlstore.Option) (experiment.Repository, error) {
	return nil, errors.InvalidConfig("sqlite backend unavailable in this build; rebuild with -tags sqlite")
}
