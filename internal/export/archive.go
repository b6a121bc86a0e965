package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"foresight/internal/blob"
	"foresight/internal/core"
	"foresight/pkg/domain"
)

const contentType = "text/csv; charset=utf-8"

// Source produces a consistent copy of a room's data.
type Source interface {
	ExportRoom(ctx context.Context, actor domain.Viewer, roomID string) (core.RoomExport, error)
	AuthorizeExport(ctx context.Context, actor domain.Viewer, roomID string) error
}

// Archive describes a stored export.
type Archive struct {
	blob.Info
	URL string `json:"url,omitempty"`
}

// Archiver writes room exports to a blob store under exports/<room>/.
type Archiver struct {
	source Source
	store  blob.Store
	logger *slog.Logger
	expiry time.Duration
	nowFn  func() time.Time
}

// Option customises an Archiver.
type Option func(*Archiver)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Archiver) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithURLExpiry sets the lifetime of presigned download links.
func WithURLExpiry(d time.Duration) Option {
	return func(a *Archiver) {
		if d > 0 {
			a.expiry = d
		}
	}
}

// WithClock overrides the time used in archive keys.
func WithClock(now func() time.Time) Option {
	return func(a *Archiver) {
		if now != nil {
			a.nowFn = now
		}
	}
}

// NewArchiver constructs an Archiver.
func NewArchiver(source Source, store blob.Store, opts ...Option) *Archiver {
	a := &Archiver{
		source: source,
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		expiry: blob.DefaultURLExpiry,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func roomPrefix(roomID string) string { return "exports/" + roomID + "/" }

// Stream writes the room export directly to w.
func (a *Archiver) Stream(ctx context.Context, actor domain.Viewer, roomID string, w io.Writer) error {
	data, err := a.source.ExportRoom(ctx, actor, roomID)
	if err != nil {
		return err
	}
	return WriteCSV(w, data)
}

// Create renders the export and stores it. The CSV is rendered outside the
// mutation queue; only the data collection goes through it.
func (a *Archiver) Create(ctx context.Context, actor domain.Viewer, roomID string) (Archive, error) {
	data, err := a.source.ExportRoom(ctx, actor, roomID)
	if err != nil {
		return Archive{}, err
	}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, data); err != nil {
		return Archive{}, err
	}
	key := fmt.Sprintf("%s%s-%s.csv", roomPrefix(roomID), a.nowFn().Format("20060102T150405Z"), uuid.NewString()[:8])
	size := buf.Len()
	info, err := a.store.Put(ctx, key, &buf, blob.PutOptions{
		ContentType: contentType,
		Metadata: map[string]string{
			"room":         roomID,
			"requested-by": actor.UserID,
			"rows":         fmt.Sprint(len(data.Predictions)),
		},
	})
	if err != nil {
		return Archive{}, domain.ServiceUnavailable("archive storage failed", err)
	}
	a.logger.Info("export_archived", "room", roomID, "key", key, "rows", len(data.Predictions), "size", humanize.Bytes(uint64(size)), "driver", string(a.store.Driver()))
	return a.withURL(ctx, info), nil
}

// List returns the stored archives of a room the actor may export.
func (a *Archiver) List(ctx context.Context, actor domain.Viewer, roomID string) ([]Archive, error) {
	if err := a.authorize(ctx, actor, roomID); err != nil {
		return nil, err
	}
	infos, err := a.store.List(ctx, roomPrefix(roomID))
	if err != nil {
		return nil, domain.ServiceUnavailable("archive storage failed", err)
	}
	out := make([]Archive, 0, len(infos))
	for _, info := range infos {
		out = append(out, a.withURL(ctx, info))
	}
	return out, nil
}

// Open returns the archive body. Callers close the reader.
func (a *Archiver) Open(ctx context.Context, actor domain.Viewer, roomID, name string) (Archive, io.ReadCloser, error) {
	key, err := a.key(ctx, actor, roomID, name)
	if err != nil {
		return Archive{}, nil, err
	}
	info, rc, err := a.store.Get(ctx, key)
	if errors.Is(err, blob.ErrNotFound) {
		return Archive{}, nil, domain.NotFound("archive", name)
	}
	if err != nil {
		return Archive{}, nil, domain.ServiceUnavailable("archive storage failed", err)
	}
	return Archive{Info: info}, rc, nil
}

// Delete removes an archive.
func (a *Archiver) Delete(ctx context.Context, actor domain.Viewer, roomID, name string) error {
	key, err := a.key(ctx, actor, roomID, name)
	if err != nil {
		return err
	}
	existed, err := a.store.Delete(ctx, key)
	if err != nil {
		return domain.ServiceUnavailable("archive storage failed", err)
	}
	if !existed {
		return domain.NotFound("archive", name)
	}
	a.logger.Info("export_deleted", "room", roomID, "key", key)
	return nil
}

func (a *Archiver) key(ctx context.Context, actor domain.Viewer, roomID, name string) (string, error) {
	if name == "" || strings.Contains(name, "/") {
		return "", domain.BadRequest("invalid archive name")
	}
	if err := a.authorize(ctx, actor, roomID); err != nil {
		return "", err
	}
	return roomPrefix(roomID) + name, nil
}

func (a *Archiver) authorize(ctx context.Context, actor domain.Viewer, roomID string) error {
	return a.source.AuthorizeExport(ctx, actor, roomID)
}

func (a *Archiver) withURL(ctx context.Context, info blob.Info) Archive {
	out := Archive{Info: info}
	url, err := a.store.PresignURL(ctx, info.Key, blob.SignedURLOptions{Expiry: a.expiry})
	switch {
	case err == nil:
		out.URL = url
	case !errors.Is(err, blob.ErrUnsupported):
		a.logger.Warn("export_presign_failed", "key", info.Key, "error", err)
	}
	return out
}
