// Package index writes the decoded frames of a trace into a per-session
// DuckDB file so aggregate questions can be answered with SQL.
package index

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cantrace/backend/internal/logger"
	"github.com/cantrace/backend/internal/models"
	"github.com/cantrace/backend/internal/parser"
	"github.com/marcboeker/go-duckdb"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// UnknownType labels frames whose function code is not a CANopen class.
const UnknownType = "UNKNOWN"

const schema = `
	CREATE TABLE frames (
		line         INTEGER NOT NULL,
		port         VARCHAR,
		cob_id       BIGINT,
		func_code    BIGINT,
		packet_type  VARCHAR,
		node         BIGINT,
		sdo          BOOLEAN NOT NULL,
		object_index VARCHAR,
		sub_index    VARCHAR,
		malformed    BOOLEAN NOT NULL
	)
`

// FrameIndex is a DuckDB table of decoded frames for one session.
type FrameIndex struct {
	db     *sql.DB
	dbPath string
	rows   int
	log    *logger.Logger
}

// NewFrameIndex creates an empty index file for sessionID under dir.
func NewFrameIndex(dir, sessionID string, log *logger.Logger) (*FrameIndex, error) {
	if log == nil {
		log = logger.NewNop()
	}
	log = log.With(func(c zerolog.Context) zerolog.Context {
		return c.Str("component", "frame_index").Str("session", sessionID)
	})

	dbPath := filepath.Join(dir, fmt.Sprintf("session_%s.duckdb", sessionID))
	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		pragmas := []string{
			"PRAGMA memory_limit='512MB'",
			"PRAGMA threads=2",
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating duckdb connector")
	}

	db := sql.OpenDB(connector)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		removeFiles(dbPath)
		return nil, errors.Wrap(err, "creating frames table")
	}

	log.Debug().Str("path", dbPath).Msg("frame index created")
	return &FrameIndex{db: db, dbPath: dbPath, log: log}, nil
}

// Path returns the database file location.
func (x *FrameIndex) Path() string {
	return x.dbPath
}

// Len returns the number of indexed frames.
func (x *FrameIndex) Len() int {
	return x.rows
}

// Load replaces the table contents with frames.
func (x *FrameIndex) Load(ctx context.Context, frames []parser.Frame) error {
	start := time.Now()

	if _, err := x.db.ExecContext(ctx, "DELETE FROM frames"); err != nil {
		return errors.Wrap(err, "clearing frames")
	}

	conn, err := x.db.Conn(ctx)
	if err != nil {
		return errors.Wrap(err, "acquiring connection")
	}
	defer conn.Close()

	err = conn.Raw(func(driverConn any) error {
		dConn, ok := driverConn.(*duckdb.Conn)
		if !ok {
			return errors.New("connection is not a duckdb.Conn")
		}

		appender, err := duckdb.NewAppenderFromConn(dConn, "", "frames")
		if err != nil {
			return errors.Wrap(err, "creating appender")
		}
		defer appender.Close()

		for i := range frames {
			if err := appender.AppendRow(rowValues(&frames[i])...); err != nil {
				return errors.Wrapf(err, "appending line %d", frames[i].Line)
			}
		}
		return appender.Flush()
	})
	if err != nil {
		x.rows = 0
		return err
	}

	x.rows = len(frames)
	x.log.Debug().Int("frames", len(frames)).Dur("elapsed", time.Since(start)).Msg("frames indexed")
	return nil
}

// rowValues flattens a frame into the column order of the frames table.
// Fields that cannot be decoded are stored as NULL.
func rowValues(f *parser.Frame) []driver.Value {
	row := []driver.Value{int32(f.Line), nil, nil, nil, nil, nil, false, nil, nil, false}

	if port, err := f.Port(); err == nil {
		row[1] = port
	}

	cob, err := f.COBID()
	if err != nil {
		row[9] = true
		return row
	}
	code, _ := f.FunctionCode()
	node, _ := f.NodeAddress()
	row[2] = int64(cob)
	row[3] = int64(code)
	row[5] = int64(node)

	t, ok, _ := f.PacketType()
	if !ok {
		row[4] = UnknownType
		return row
	}
	row[4] = string(t)

	if t.IsSDO() {
		row[6] = true
		if idx, err := f.ObjectIndex(); err == nil {
			row[7] = idx
		}
		if sub, err := f.SubIndex(); err == nil {
			row[8] = sub
		}
	}
	return row
}

// Summary aggregates the indexed frames.
func (x *FrameIndex) Summary(ctx context.Context) (*models.TraceSummary, error) {
	s := &models.TraceSummary{
		ByType:        make(map[string]int),
		ByNode:        make(map[string]int),
		ByPort:        make(map[string]int),
		ObjectIndices: []string{},
	}

	err := x.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(*) FILTER (WHERE malformed) FROM frames").Scan(&s.Frames, &s.Malformed)
	if err != nil {
		return nil, errors.Wrap(err, "counting frames")
	}

	if err := x.groupCount(ctx, s.ByType,
		"SELECT packet_type, COUNT(*) FROM frames WHERE NOT malformed GROUP BY packet_type"); err != nil {
		return nil, errors.Wrap(err, "grouping by type")
	}
	if err := x.groupCount(ctx, s.ByPort,
		"SELECT port, COUNT(*) FROM frames WHERE port IS NOT NULL GROUP BY port"); err != nil {
		return nil, errors.Wrap(err, "grouping by port")
	}

	rows, err := x.db.QueryContext(ctx,
		"SELECT node, COUNT(*) FROM frames WHERE NOT malformed GROUP BY node")
	if err != nil {
		return nil, errors.Wrap(err, "grouping by node")
	}
	for rows.Next() {
		var node int64
		var n int
		if err := rows.Scan(&node, &n); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scanning node count")
		}
		s.ByNode[parser.FormatAddress(uint32(node))] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "grouping by node")
	}

	rows, err = x.db.QueryContext(ctx,
		"SELECT DISTINCT upper(object_index) FROM frames WHERE object_index IS NOT NULL ORDER BY 1")
	if err != nil {
		return nil, errors.Wrap(err, "listing object indices")
	}
	defer rows.Close()
	for rows.Next() {
		var idx string
		if err := rows.Scan(&idx); err != nil {
			return nil, errors.Wrap(err, "scanning object index")
		}
		s.ObjectIndices = append(s.ObjectIndices, idx)
	}
	return s, errors.Wrap(rows.Err(), "listing object indices")
}

func (x *FrameIndex) groupCount(ctx context.Context, into map[string]int, query string) error {
	rows, err := x.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		into[key] = n
	}
	return rows.Err()
}

// Close closes the database and removes its files.
func (x *FrameIndex) Close() error {
	var err error
	if x.db != nil {
		err = x.db.Close()
		x.db = nil
	}
	removeFiles(x.dbPath)
	return errors.Wrap(err, "closing frame index")
}

func removeFiles(dbPath string) {
	os.Remove(dbPath)
	os.Remove(dbPath + ".wal")
}
