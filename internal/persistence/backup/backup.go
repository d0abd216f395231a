// Package backup writes and reads full exports of the mount records.
//
// A backup file is a zstd stream holding one JSON header line followed by a gob-encoded
// BackupV1, so the header can be inspected without decoding the records.
package backup

import (
	"bufio"
	"context"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"simplemounts.ai/internal/mount"
)

const Version = 1

type Header struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Records   int       `json:"records"`
}

type BackupV1 struct {
	Header  Header     `json:"header"`
	Records []RecordV1 `json:"records"`
}

type RecordV1 struct {
	ID           int64   `json:"id"`
	Owner        string  `json:"owner"`
	Name         *string `json:"name,omitempty"`
	Kind         string  `json:"kind"`
	Attributes   []byte  `json:"attributes"`
	Inventory    []byte  `json:"inventory,omitempty"`
	CreatedAt    int64   `json:"created_at_ms"`
	LastAccessed int64   `json:"last_accessed_ms"`
}

func fromRecord(r mount.Record) RecordV1 {
	return RecordV1{
		ID:           r.ID,
		Owner:        r.Owner,
		Name:         r.Name,
		Kind:         string(r.Kind),
		Attributes:   r.Attributes,
		Inventory:    r.Inventory,
		CreatedAt:    r.CreatedAt.UnixMilli(),
		LastAccessed: r.LastAccessed.UnixMilli(),
	}
}

func (r RecordV1) Record() mount.Record {
	return mount.Record{
		ID:           r.ID,
		Owner:        r.Owner,
		Name:         r.Name,
		Kind:         mount.Kind(r.Kind),
		Attributes:   r.Attributes,
		Inventory:    r.Inventory,
		CreatedAt:    time.UnixMilli(r.CreatedAt).UTC(),
		LastAccessed: time.UnixMilli(r.LastAccessed).UTC(),
	}
}

func Write(path string, b BackupV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := write(tmp, b); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func write(path string, b BackupV1) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(b.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&b); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Sync()
}

func Read(path string) (BackupV1, error) {
	var b BackupV1
	f, err := os.Open(path)
	if err != nil {
		return b, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return b, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	hb, err := br.ReadBytes('\n')
	if err != nil {
		return b, fmt.Errorf("read header: %w", err)
	}
	var h Header
	if err := json.Unmarshal(hb, &h); err != nil {
		return b, fmt.Errorf("decode header: %w", err)
	}
	if h.Version != Version {
		return b, fmt.Errorf("unsupported backup version %d", h.Version)
	}
	if err := gob.NewDecoder(br).Decode(&b); err != nil {
		return b, fmt.Errorf("gob decode: %w", err)
	}
	if len(b.Records) != b.Header.Records {
		return b, fmt.Errorf("backup holds %d records, header says %d", len(b.Records), b.Header.Records)
	}
	return b, nil
}

// ReadHeader decodes only the header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	hb, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	err = json.Unmarshal(hb, &h)
	return h, err
}

// Source lists every record for export.
type Source interface {
	ListAll(ctx context.Context) ([]mount.Record, error)
}

// Sink restores records with their ids.
type Sink interface {
	ImportRecords(ctx context.Context, recs []mount.Record, replace bool) (int, error)
}

// Export writes every record of src to path.
func Export(ctx context.Context, src Source, path string, now time.Time) (Header, error) {
	recs, err := src.ListAll(ctx)
	if err != nil {
		return Header{}, err
	}
	b := BackupV1{
		Header:  Header{Version: Version, CreatedAt: now.UTC(), Records: len(recs)},
		Records: make([]RecordV1, 0, len(recs)),
	}
	for _, r := range recs {
		b.Records = append(b.Records, fromRecord(r))
	}
	return b.Header, Write(path, b)
}

// Import restores the records of the backup at path into dst. Records whose id already
// exists are skipped unless replace is set.
func Import(ctx context.Context, dst Sink, path string, replace bool) (int, error) {
	b, err := Read(path)
	if err != nil {
		return 0, err
	}
	recs := make([]mount.Record, 0, len(b.Records))
	for _, r := range b.Records {
		rec := r.Record()
		if !rec.Kind.Valid() {
			return 0, fmt.Errorf("record %d: unknown kind %q", rec.ID, r.Kind)
		}
		if rec.ID <= 0 || rec.Owner == "" {
			return 0, errors.New("backup holds a record without id or owner")
		}
		recs = append(recs, rec)
	}
	return dst.ImportRecords(ctx, recs, replace)
}
