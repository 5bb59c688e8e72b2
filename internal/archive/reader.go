package archive

import (
	"bytes"
	"compress/gzip"
	"database/sql"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/MeKo-Tech/colordeconv/internal/deconv"
)

// ErrNotFound reports a source/stain pair missing from the archive.
var ErrNotFound = errors.New("stain not found")

// Reader reads stain images from an archive database.
type Reader struct {
	db   *sql.DB
	path string
}

// OpenReader opens an archive database for reading.
func OpenReader(path string) (*Reader, error) {
	db, err := sql.Open("sqlite", path+"?mode=ro&immutable=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='stains'").Scan(&count)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to verify schema: %w", err)
	}
	if count == 0 {
		db.Close()
		return nil, fmt.Errorf("database does not contain stains table")
	}

	return &Reader{
		db:   db,
		path: path,
	}, nil
}

// ReadStain returns the entry for stain index (1-based) of source, with its
// PNG data decompressed.
func (r *Reader) ReadStain(source string, index int) (StainEntry, error) {
	e := StainEntry{Source: source, Index: index}
	var (
		depth, minV, maxV int
		compressed        []byte
	)
	err := r.db.QueryRow(
		`SELECT depth, width, height, min_value, max_value, image_data
		FROM stains WHERE source=? AND stain=?`,
		source, index,
	).Scan(&depth, &e.Width, &e.Height, &minV, &maxV, &compressed)

	if errors.Is(err, sql.ErrNoRows) {
		return StainEntry{}, fmt.Errorf("%w: %s stain %d", ErrNotFound, source, index)
	}
	if err != nil {
		return StainEntry{}, fmt.Errorf("failed to query stain: %w", err)
	}

	e.Depth = deconv.Depth(depth)
	e.Min, e.Max = uint16(minV), uint16(maxV)
	e.Data, err = gzipDecompress(compressed)
	if err != nil {
		return StainEntry{}, fmt.Errorf("failed to decompress stain: %w", err)
	}
	return e, nil
}

// Image decodes stain index of source.
func (r *Reader) Image(source string, index int) (image.Image, error) {
	e, err := r.ReadStain(source, index)
	if err != nil {
		return nil, err
	}
	img, err := png.Decode(bytes.NewReader(e.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode stain %d of %s: %w", index, source, err)
	}
	return img, nil
}

// Sources lists the distinct input names in the archive, sorted.
func (r *Reader) Sources() ([]string, error) {
	rows, err := r.db.Query("SELECT DISTINCT source FROM stains ORDER BY source")
	if err != nil {
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	defer rows.Close()

	var sources []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		sources = append(sources, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sources: %w", err)
	}
	return sources, nil
}

// Metadata reads metadata from the database.
func (r *Reader) Metadata() (Metadata, error) {
	rows, err := r.db.Query("SELECT name, value FROM metadata")
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to query metadata: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return Metadata{}, fmt.Errorf("failed to scan metadata row: %w", err)
		}
		values[name] = value
	}

	if err := rows.Err(); err != nil {
		return Metadata{}, fmt.Errorf("error iterating metadata: %w", err)
	}

	return fromMap(values), nil
}

// Close closes the database connection.
func (r *Reader) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gr.Close()

	return io.ReadAll(gr)
}
