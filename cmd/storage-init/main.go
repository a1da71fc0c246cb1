// Command storage-init provisions the backing store of the task API and
// exits. It is safe to run repeatedly.
package main

import (
	"context"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/caarlos0/env/v11"
	log "github.com/sirupsen/logrus"

	"task-tracker/config"
	"task-tracker/storage"
)

const (
	queueAlreadyExists = "QueueAlreadyExists"
	initTimeout        = 2 * time.Minute
)

type settings struct {
	Debug       bool   `env:"DEBUG"`
	StoreDriver string `env:"STORE_DRIVER" envDefault:"sqlite"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"tasks.db"`
	ConnStr     string `env:"STORAGE_CONNECTION_STRING"`
	TasksTable  string `env:"TASKS_TABLE" envDefault:"tasks"`
	UsersTable  string `env:"USERS_TABLE" envDefault:"users"`
	EventsQueue string `env:"TASK_EVENTS_QUEUE"`
}

func main() {
	var s settings
	if err := env.Parse(&s); err != nil {
		log.Fatalf("parse env: %v", err)
	}
	if s.Debug {
		log.SetLevel(log.DebugLevel)
	}
	log.WithField("driver", s.StoreDriver).Info("storage init starting")

	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	var err error
	switch s.StoreDriver {
	case config.DriverSQLite:
		err = migrateSQLite(s.SQLitePath)
	case config.DriverAzTables:
		err = provisionAzure(ctx, s)
	default:
		log.Fatalf("unsupported STORE_DRIVER %q", s.StoreDriver)
	}
	if err != nil {
		log.Fatalf("storage init: %v", err)
	}

	if s.EventsQueue != "" && s.StoreDriver != config.DriverAzTables {
		if s.ConnStr == "" {
			log.Fatal("TASK_EVENTS_QUEUE requires STORAGE_CONNECTION_STRING")
		}
		if err := ensureQueue(ctx, s.ConnStr, s.EventsQueue); err != nil {
			log.Fatalf("create queue: %v", err)
		}
	}
	log.Info("storage init complete")
}

// migrateSQLite opens the database once, which applies pending migrations.
func migrateSQLite(path string) error {
	db, err := storage.OpenSQLite(path)
	if err != nil {
		return err
	}
	log.WithField("path", path).Info("sqlite schema up to date")
	return db.Close()
}

func provisionAzure(ctx context.Context, s settings) error {
	if s.ConnStr == "" {
		return errors.New("missing STORAGE_CONNECTION_STRING")
	}
	svc, err := aztables.NewServiceClientFromConnectionString(s.ConnStr, nil)
	if err != nil {
		return err
	}
	for _, name := range []string{s.TasksTable, s.UsersTable} {
		if name == "" {
			continue
		}
		_, err := svc.NewClient(name).CreateTable(ctx, nil)
		if err := created(err, string(aztables.TableAlreadyExists), log.WithField("table", name)); err != nil {
			return err
		}
	}
	if s.EventsQueue == "" {
		return nil
	}
	return ensureQueue(ctx, s.ConnStr, s.EventsQueue)
}

func ensureQueue(ctx context.Context, connStr, name string) error {
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
	if err != nil {
		return err
	}
	_, err = q.Create(ctx, nil)
	return created(err, queueAlreadyExists, log.WithField("queue", name))
}

// created treats the service's "already exists" code as success.
func created(err error, existsCode string, entry *log.Entry) error {
	if err == nil {
		entry.Info("created")
		return nil
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.ErrorCode == existsCode {
		entry.Debug("already exists")
		return nil
	}
	return err
}
