package migration

import (
	"context"
	"database/sql"
	"math"
	"time"
)

type Direction rune

const (
	Down Direction = 'd'
	Up   Direction = 'u'
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return "unknown"
	}
}

// ---

const VersionBits = 64

// VersionLayout is the time layout stubs derive versions from.
const VersionLayout = "20060102150405"

type Version uint64

// Latest is the upper bound used when every pending step should be applied.
const Latest Version = math.MaxUint64

type Migration struct {
	Version Version
	Name    string
}

// ---

// Tx is the unit of work a step shares with its ledger update.
// Both *sql.Tx and *sql.DB satisfy it.
type Tx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type StepFunc func(ctx context.Context, tx Tx) error

// Step is one reversible unit of schema change belonging to a database namespace.
type Step struct {
	Migration
	Namespace string
	Up        StepFunc
	Down      StepFunc
}

func (s Step) CanUndo() bool {
	return s.Down != nil
}

func (s Step) Description() Description {
	return Description{
		Migration: s.Migration,
		CanUndo:   s.CanUndo(),
	}
}

// ---

type Status uint

const (
	Pending Status = iota
	Applied
	Missing
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Applied:
		return "applied"
	case Missing:
		return "missing"
	default:
		return "unknown"
	}
}

// ---

type Log struct {
	Migration
	Direction
	AppliedAt time.Time
}

// ---

type Description struct {
	Migration
	CanUndo bool
}

type State struct {
	Description
	Status    Status
	AppliedAt time.Time
}
