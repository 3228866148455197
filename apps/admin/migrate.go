package main

import (
	"context"

	"github.com/trezcool/nyumba/storage/database"
)

var migrateFunc = database.RunMigrations // mockable

func (cli *commandLine) migrate(args []string) error {
	return migrateFunc(context.Background(), cli.db.DB, database.Dialect(cli.db.DriverName()), args[0], args[1:]...)
}
