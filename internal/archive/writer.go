package archive

import (
	"bytes"
	"compress/gzip"
	"database/sql"
	"fmt"
	"sync"

	"github.com/MeKo-Tech/colordeconv/internal/deconv"
	"github.com/MeKo-Tech/colordeconv/internal/imageio"

	_ "modernc.org/sqlite" // SQLite driver
)

const (
	// DefaultBatchSize is the number of stain images to buffer before flushing to the database.
	DefaultBatchSize = 32
)

// StainEntry is one encoded stain image.
type StainEntry struct {
	Source string // Input file the stain was separated from
	Index  int    // Stain number, 1-based
	Depth  deconv.Depth
	Width  int
	Height int
	Min    uint16
	Max    uint16
	Data   []byte // PNG data (will be gzip-compressed before storage)
}

// Writer writes stain images to an archive database. It is safe for
// concurrent use by batch workers.
type Writer struct {
	db        *sql.DB
	batch     []StainEntry
	batchSize int
	mu        sync.Mutex
}

// New creates a new archive writer.
// The database is created if it doesn't exist, and the schema is initialized.
func New(path string, metadata Metadata) (*Writer, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = 50000",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if err := insertMetadata(db, metadata); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to insert metadata: %w", err)
	}

	return &Writer{
		db:        db,
		batch:     make([]StainEntry, 0, DefaultBatchSize),
		batchSize: DefaultBatchSize,
	}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS metadata (
			name TEXT NOT NULL,
			value TEXT
		);

		CREATE TABLE IF NOT EXISTS stains (
			source TEXT NOT NULL,
			stain INTEGER NOT NULL,
			depth INTEGER NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			min_value INTEGER NOT NULL,
			max_value INTEGER NOT NULL,
			image_data BLOB NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS stain_index ON stains (source, stain);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	return nil
}

func insertMetadata(db *sql.DB, meta Metadata) error {
	if _, err := db.Exec("DELETE FROM metadata"); err != nil {
		return fmt.Errorf("failed to clear metadata: %w", err)
	}

	stmt, err := db.Prepare("INSERT INTO metadata (name, value) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare metadata insert: %w", err)
	}
	defer stmt.Close()

	for key, value := range meta.ToMap() {
		if _, err := stmt.Exec(key, value); err != nil {
			return fmt.Errorf("failed to insert metadata %q: %w", key, err)
		}
	}

	return nil
}

// WriteSeparation encodes the three stain images of sep as PNG and queues
// them under source.
func (w *Writer) WriteSeparation(source string, sep *deconv.Separation) error {
	for k, img := range sep.Stains {
		var buf bytes.Buffer
		if err := imageio.Encode(&buf, img, imageio.FormatPNG); err != nil {
			return fmt.Errorf("failed to encode stain %d of %s: %w", k+1, source, err)
		}
		err := w.WriteStain(StainEntry{
			Source: source,
			Index:  k + 1,
			Depth:  sep.Depth,
			Width:  sep.Width,
			Height: sep.Height,
			Min:    sep.Min,
			Max:    sep.Max,
			Data:   buf.Bytes(),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// WriteStain adds an entry to the batch. When the batch is full, it is automatically flushed.
func (w *Writer) WriteStain(entry StainEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.batch = append(w.batch, entry)

	if len(w.batch) >= w.batchSize {
		return w.flushLocked()
	}

	return nil
}

// Flush writes any buffered entries to the database.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

// flushLocked writes buffered entries to the database. Must be called with lock held.
func (w *Writer) flushLocked() error {
	if len(w.batch) == 0 {
		return nil
	}

	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO stains
		(source, stain, depth, width, height, min_value, max_value, image_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range w.batch {
		compressed, err := gzipCompress(e.Data)
		if err != nil {
			return fmt.Errorf("failed to compress stain %d of %s: %w", e.Index, e.Source, err)
		}

		if _, err := stmt.Exec(e.Source, e.Index, int(e.Depth), e.Width, e.Height, int(e.Min), int(e.Max), compressed); err != nil {
			return fmt.Errorf("failed to insert stain %d of %s: %w", e.Index, e.Source, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	w.batch = w.batch[:0]
	return nil
}

// Close flushes any remaining entries and closes the database.
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		w.db.Close()
		return err
	}

	if err := w.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)

	if _, err := gw.Write(data); err != nil {
		gw.Close()
		return nil, err
	}

	if err := gw.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
