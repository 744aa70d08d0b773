package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"os"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed sql/postgres/*.sql sql/sqlite/*.sql
var embedded embed.FS

// MigrateStore applies the schema migrations. Without a migration folder the
// migrations embedded in the binary for the database dialect are used.
func MigrateStore(db *gorm.DB, migrationFolder string) error {
	goose.SetLogger(&logger{})

	dialect, dir, err := dialectFor(db)
	if err != nil {
		return err
	}

	fsys, err := migrationFS(migrationFolder, dir)
	if err != nil {
		return err
	}
	goose.SetBaseFS(fsys)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect(dialect); err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	return goose.Up(sqlDB, ".")
}

// Version returns the current schema version.
func Version(db *gorm.DB) (int64, error) {
	dialect, _, err := dialectFor(db)
	if err != nil {
		return 0, err
	}
	if err := goose.SetDialect(dialect); err != nil {
		return 0, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return 0, err
	}
	return goose.GetDBVersion(sqlDB)
}

func dialectFor(db *gorm.DB) (string, string, error) {
	switch db.Dialector.Name() {
	case "postgres":
		return "postgres", "sql/postgres", nil
	case "sqlite":
		return "sqlite3", "sql/sqlite", nil
	default:
		return "", "", fmt.Errorf("unsupported database dialect: %s", db.Dialector.Name())
	}
}

func migrationFS(migrationFolder, embeddedDir string) (fs.FS, error) {
	if migrationFolder == "" {
		return fs.Sub(embedded, embeddedDir)
	}

	fi, err := os.Stat(migrationFolder)
	if err != nil {
		return nil, err
	}

	if !fi.Mode().IsDir() {
		return nil, fmt.Errorf("failed to open migration folder: %s is not a folder", migrationFolder)
	}

	return os.DirFS(migrationFolder), nil
}

/*
logger implements goose.Logger interface

	type Logger interface {
		Fatalf(format string, v ...interface{})
		Printf(format string, v ...interface{})
	}
*/
type logger struct{}

func (m *logger) Printf(format string, v ...interface{}) { zap.S().Named("migrations").Infof(format, v...) }
func (m *logger) Fatalf(format string, v ...interface{}) { zap.S().Named("migrations").Fatalf(format, v...) }
