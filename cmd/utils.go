package cmd

import (
	"log"
	"os"
	"path/filepath"

	"trainbatch/internal/config"
	"trainbatch/internal/database"
	"trainbatch/internal/launcher"
	"trainbatch/internal/storage"

	"gorm.io/gorm"
)

// CreateDatabase opens the run manifest: DATABASE_URL when set, otherwise a
// sqlite file under the root dir.
func CreateDatabase(cfg config.Config) *gorm.DB {
	url := cfg.DatabaseURL
	if url == "" {
		path := filepath.Join(cfg.Root, "db", "trainbatch.db")
		if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
			log.Fatalf("Failed to create database directory: %v", err)
		}
		url = path
	}

	db, err := database.NewDatabase(url)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	return db
}

// CreateStorage picks the artifact store: S3 when an endpoint or credentials
// are configured, a local filesystem store otherwise. Returns nil when no
// artifact bucket is set, which disables checkpoint syncing.
func CreateStorage(cfg config.Config) storage.Provider {
	if cfg.ArtifactBucket == "" {
		return nil
	}

	if cfg.S3EndpointURL != "" || cfg.S3AccessKeyID != "" {
		store, err := storage.NewS3ObjectStore(storage.S3ClientConfig{
			Endpoint:        cfg.S3EndpointURL,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			log.Fatalf("Failed to create S3 client: %v", err)
		}
		return store
	}

	store, err := storage.NewLocalProvider(filepath.Join(cfg.Root, "storage"))
	if err != nil {
		log.Fatalf("Failed to create storage client: %v", err)
	}
	return store
}

func CreateLauncher(cfg config.Config) *launcher.Launcher {
	return &launcher.Launcher{
		Python:      cfg.Python,
		ScriptDir:   cfg.ScriptDir,
		MaxParallel: cfg.MaxParallel,
	}
}

// SetupLogFile mirrors all log output into root/<name>.log in addition to
// stderr.
func SetupLogFile(root, name string) *os.File {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := os.MkdirAll(root, os.ModePerm); err != nil {
		log.Fatalf("error creating directory for log file: %v", err)
	}

	f, err := os.OpenFile(filepath.Join(root, name), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}

	return f
}
