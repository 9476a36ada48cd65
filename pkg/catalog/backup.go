package catalog

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/cart"
)

// Backup describes one stored image.
type Backup struct {
	ID         string
	Slot       cart.Slot
	GameCode   string
	Title      string
	Technology cart.Technology
	Capacity   int
	CreatedAt  time.Time
	Note       string
	Size       int
}

// Meta is the caller-supplied part of a Backup.
type Meta struct {
	Slot       cart.Slot
	GameCode   string
	Title      string
	Technology cart.Technology
	Capacity   int
	Note       string
}

// MetaFor fills technology, capacity and slot from a profile.
func MetaFor(p cart.Profile) Meta {
	return Meta{Slot: p.Slot, Technology: p.Technology, Capacity: p.Capacity}
}

// Sink buffers an image until Commit stores it. It is the io.Writer a read
// transfer pushes chip bytes into.
type Sink struct {
	store *Store
	meta  Meta
	buf   bytes.Buffer
	done  bool
}

// NewSink starts a backup.
func (s *Store) NewSink(meta Meta) *Sink {
	return &Sink{store: s, meta: meta}
}

func (k *Sink) Write(p []byte) (int, error) {
	if k.done {
		return 0, fmt.Errorf("catalog: write after commit")
	}
	return k.buf.Write(p)
}

// Len is the number of bytes buffered so far.
func (k *Sink) Len() int {
	return k.buf.Len()
}

// Commit stores the image. An image shorter than the declared capacity is
// refused so a failed transfer never lands in the catalog.
func (k *Sink) Commit(ctx context.Context) (*Backup, error) {
	if k.done {
		return nil, fmt.Errorf("catalog: already committed")
	}
	if k.meta.Capacity > 0 && k.buf.Len() != k.meta.Capacity {
		return nil, fmt.Errorf("catalog: image is %d bytes, chip holds %d", k.buf.Len(), k.meta.Capacity)
	}

	now := time.Now().UTC()
	b := &Backup{
		ID:         k.store.newID(now),
		Slot:       k.meta.Slot,
		GameCode:   k.meta.GameCode,
		Title:      k.meta.Title,
		Technology: k.meta.Technology,
		Capacity:   k.meta.Capacity,
		CreatedAt:  now,
		Note:       k.meta.Note,
		Size:       k.buf.Len(),
	}
	_, err := k.store.db.ExecContext(ctx,
		`INSERT INTO backups (id, slot, game_code, title, technology, capacity, created_at, note, image)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, int(b.Slot), b.GameCode, b.Title, b.Technology.String(), b.Capacity,
		b.CreatedAt.Format(timeFormat), b.Note, k.buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("insert backup: %w", err)
	}
	k.done = true
	return b, nil
}

// Get returns the metadata of one backup.
func (s *Store) Get(ctx context.Context, id string) (*Backup, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, slot, game_code, title, technology, capacity, created_at, note, length(image)
		 FROM backups WHERE id = ?`, strings.ToUpper(id))
	b, err := scanBackup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return b, err
}

// Source returns the stored image as the io.Reader a write transfer pulls
// from, together with its metadata.
func (s *Store) Source(ctx context.Context, id string) (io.Reader, *Backup, error) {
	b, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	var image []byte
	if err := s.db.QueryRowContext(ctx, `SELECT image FROM backups WHERE id = ?`, b.ID).Scan(&image); err != nil {
		return nil, nil, fmt.Errorf("read image: %w", err)
	}
	return bytes.NewReader(image), b, nil
}

// ListParams filters List.
type ListParams struct {
	GameCode string
	Limit    int
}

// List returns backups, newest first. ULIDs sort by creation time.
func (s *Store) List(ctx context.Context, p ListParams) ([]*Backup, error) {
	query := `SELECT id, slot, game_code, title, technology, capacity, created_at, note, length(image)
		FROM backups`
	var args []interface{}
	if p.GameCode != "" {
		query += ` WHERE game_code = ?`
		args = append(args, strings.ToUpper(p.GameCode))
	}
	query += ` ORDER BY id DESC`
	if p.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, p.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	defer rows.Close()

	var out []*Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Delete removes a backup.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM backups WHERE id = ?`, strings.ToUpper(id))
	if err != nil {
		return fmt.Errorf("delete backup: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBackup(row scanner) (*Backup, error) {
	var (
		b       Backup
		slot    int
		tech    string
		created string
	)
	if err := row.Scan(&b.ID, &slot, &b.GameCode, &b.Title, &tech, &b.Capacity, &created, &b.Note, &b.Size); err != nil {
		return nil, err
	}
	b.Slot = cart.Slot(slot)
	t, err := cart.ParseTechnology(tech)
	if err != nil {
		return nil, err
	}
	b.Technology = t
	if b.CreatedAt, err = time.Parse(timeFormat, created); err != nil {
		return nil, fmt.Errorf("backup %s: created_at: %w", b.ID, err)
	}
	return &b, nil
}
