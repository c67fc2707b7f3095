package main

import (
	"database/sql"
	"errors"
	"flag"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"finsync/internal/shared/config"
)

func main() {
	source := flag.String("source", "file://migrations", "Migration source URL")
	down := flag.Bool("down", false, "Roll back the most recent migration instead of applying")
	flag.Parse()

	dbCfg, err := config.LoadDatabase()
	if err != nil {
		logrus.WithError(err).Fatal("config.LoadDatabase")
	}

	db, err := sql.Open("postgres", dbCfg.ConnectionString())
	if err != nil {
		logrus.WithError(err).Fatal("sql.Open")
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		logrus.WithError(err).Fatal("postgres.WithInstance")
	}

	m, err := migrate.NewWithDatabaseInstance(*source, "postgres", driver)
	if err != nil {
		logrus.WithError(err).Fatal("migrate.NewWithDatabaseInstance")
	}

	preMigrationVersion, _, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		preMigrationVersion = 0
	} else if err != nil {
		logrus.WithError(err).Fatal("m.Version.preMigrationVersion")
	}

	if *down {
		err = m.Steps(-1)
	} else {
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logrus.WithError(err).Fatal("migrate")
	}

	postMigrationVersion, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		postMigrationVersion = 0
	} else if err != nil {
		logrus.WithError(err).Fatal("m.Version.postMigrationVersion")
	}

	logrus.WithFields(logrus.Fields{
		"preMigrationVersion":  preMigrationVersion,
		"postMigrationVersion": postMigrationVersion,
		"dirty":                dirty,
	}).Info("Migration status")
}
