package db

import (
	"database/sql"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// maintenanceDB is the database connected to when creating or dropping other databases.
const maintenanceDB = "postgres"

var DB *gorm.DB
var models []any

func init() {
	models = make([]any, 0)
}

// Open and initialise the DB global variable and run AutoMigrate for all the registered models.
func Open(config Config) error {
	return OpenName(config, config.DBName())
}

// OpenName is Open but connects to the database of the given name instead of Config.DBName. This is used to connect
// to a test database.
func OpenName(config Config, name string) (err error) {
	if DB, err = gorm.Open(postgres.Open(configToDSN(config, name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}); err != nil {
		return errors.Wrapf(err, "could not open database %q", name)
	}
	if err = DB.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`).Error; err != nil {
		return errors.Wrap(err, "could not create uuid-ossp extension")
	}
	if err = DB.AutoMigrate(models...); err != nil {
		return errors.Wrapf(err, "could not migrate %d models", len(models))
	}
	return nil
}

// Close the DB connection and set the DB variable to nil.
func Close() {
	var sqlDB *sql.DB
	var err error
	if sqlDB, err = DB.DB(); err != nil {
		panic(err)
	}
	if err = sqlDB.Close(); err != nil {
		panic(err)
	}
	DB = nil
}

// RegisterModel will add the given model to the models global variable that will be passed to AutoMigrate when the DB
// connection is opened.
func RegisterModel(model any) {
	models = append(models, model)
}

// maintenance runs the given statement against the maintenance database.
func maintenance(config Config, statement string) (err error) {
	var maintenanceConn *gorm.DB
	if maintenanceConn, err = gorm.Open(postgres.Open(configToDSN(config, maintenanceDB)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}); err != nil {
		return errors.Wrap(err, "could not connect to maintenance database")
	}

	var sqlDB *sql.DB
	if sqlDB, err = maintenanceConn.DB(); err != nil {
		return errors.Wrap(err, "could not get underlying sql.DB for maintenance database")
	}
	defer sqlDB.Close()
	return maintenanceConn.Exec(statement).Error
}

// CreateDB creates the database with the given name.
func CreateDB(name string, config Config) error {
	return errors.Wrapf(maintenance(config, "CREATE DATABASE "+pq.QuoteIdentifier(name)), "could not create database %q", name)
}

// DropDB drops the database with the given name if it exists.
func DropDB(name string, config Config) error {
	return errors.Wrapf(maintenance(config, "DROP DATABASE IF EXISTS "+pq.QuoteIdentifier(name)), "could not drop database %q", name)
}
