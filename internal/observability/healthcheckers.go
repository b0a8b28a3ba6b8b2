package observability

import (
	"context"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"
)

// DatabaseHealthChecker watches the alert history database. It is healthy
// while the file is open and ready once the bucket records go to exists.
type DatabaseHealthChecker struct {
	name   string
	bucket []byte
	db     func() *bbolt.DB
}

// NewDatabaseHealthChecker creates a checker for the database db returns.
// db is called on every check so a closed store reports unhealthy.
func NewDatabaseHealthChecker(name string, db func() *bbolt.DB, bucket string) *DatabaseHealthChecker {
	return &DatabaseHealthChecker{
		name:   name,
		bucket: []byte(bucket),
		db:     db,
	}
}

func (c *DatabaseHealthChecker) Name() string { return c.name }

func (c *DatabaseHealthChecker) HealthCheck(context.Context) error {
	db, err := c.open()
	if err != nil {
		return err
	}
	// View fails on a handle closed behind our back.
	return db.View(func(*bbolt.Tx) error { return nil })
}

func (c *DatabaseHealthChecker) ReadinessCheck(context.Context) error {
	db, err := c.open()
	if err != nil {
		return err
	}
	return db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(c.bucket) == nil {
			return fmt.Errorf("bucket %q does not exist", c.bucket)
		}
		return nil
	})
}

func (c *DatabaseHealthChecker) open() (*bbolt.DB, error) {
	if c.db == nil {
		return nil, errors.New("no database configured")
	}
	db := c.db()
	if db == nil {
		return nil, errors.New("database is closed")
	}
	return db, nil
}

// ComponentHealthChecker reports a component through two status funcs,
// e.g. the scheduler's Running.
type ComponentHealthChecker struct {
	name    string
	healthy func() bool
	ready   func() bool
}

// NewComponentHealthChecker creates a checker; a nil func always fails.
func NewComponentHealthChecker(name string, healthy, ready func() bool) *ComponentHealthChecker {
	return &ComponentHealthChecker{
		name:    name,
		healthy: healthy,
		ready:   ready,
	}
}

func (c *ComponentHealthChecker) Name() string { return c.name }

func (c *ComponentHealthChecker) HealthCheck(context.Context) error {
	return c.check(c.healthy, "healthy")
}

func (c *ComponentHealthChecker) ReadinessCheck(context.Context) error {
	return c.check(c.ready, "ready")
}

func (c *ComponentHealthChecker) check(fn func() bool, what string) error {
	if fn == nil || !fn() {
		return fmt.Errorf("%s is not %s", c.name, what)
	}
	return nil
}

var (
	_ HealthChecker    = (*DatabaseHealthChecker)(nil)
	_ ReadinessChecker = (*DatabaseHealthChecker)(nil)
	_ HealthChecker    = (*ComponentHealthChecker)(nil)
	_ ReadinessChecker = (*ComponentHealthChecker)(nil)
)
