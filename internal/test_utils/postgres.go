package test_utils

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/familyhub/famcal/internal/config"
	"github.com/familyhub/famcal/internal/database"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

const (
	dbName     = "famcal"
	dbUser     = "test_famcal"
	dbPassword = "test_famcal"
)

func preparePostgresContainer(ctx context.Context) (*postgres.PostgresContainer, error) {
	pgContainer, err := postgres.Run(
		ctx, "postgres:18.1-alpine",
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPassword),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		log.Warnf("failed to start container: %s", err)
		return nil, err
	}
	return pgContainer, nil
}

// TestWithDB starts a Postgres container, applies all migrations and returns a
// pool plus a cleanup function. It returns an error instead of exiting so that
// callers can skip store tests on machines without Docker.
func TestWithDB() (*pgxpool.Pool, func(), error) {
	ctx := context.Background()

	if _, err := findProjectRoot(); err != nil {
		return nil, nil, err
	}

	container, err := preparePostgresContainer(ctx)
	if err != nil {
		return nil, nil, err
	}
	terminate := func() {
		if err := container.Terminate(ctx); err != nil {
			log.Warnf("failed to terminate postgres container: %v", err)
		}
	}

	host, err := container.Host(ctx)
	if err != nil {
		terminate()
		return nil, nil, err
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		terminate()
		return nil, nil, err
	}

	log.Infof("Postgres container started at %s:%d", host, port.Int())

	cfg := config.Database{
		Host:   host,
		Port:   port.Int(),
		User:   dbUser,
		Pass:   dbPassword,
		Name:   dbName,
		Schema: "public",
	}

	if err := database.Migrate(cfg); err != nil {
		terminate()
		return nil, nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	pool, err := database.Open(ctx, cfg)
	if err != nil {
		terminate()
		return nil, nil, err
	}

	return pool, func() {
		pool.Close()
		terminate()
	}, nil
}

// findProjectRoot walks up from the working directory until it finds go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if fileExists(filepath.Join(dir, "go.mod")) {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("could not find project root")
		}
		dir = parent
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
