package services

import (
	"context"
	"errors"
	"log"
	"mime/multipart"

	"github.com/example/autocatalog/internal/storage"
)

// blobBatch tracks blobs written during one write operation so they can be
// removed again if the surrounding transaction does not commit.
type blobBatch struct {
	store   storage.BlobStore
	op      string
	written []string
}

func newBlobBatch(store storage.BlobStore, op string) *blobBatch {
	return &blobBatch{store: store, op: op}
}

// put writes file under dir and remembers the resulting path.
func (b *blobBatch) put(ctx context.Context, dir string, file *multipart.FileHeader) (string, error) {
	p, err := b.store.Put(ctx, dir, file)
	if err != nil {
		return "", &StorageError{Op: "put", Path: dir, Err: err}
	}
	b.written = append(b.written, p)
	return p, nil
}

// rollback deletes every written blob in reverse order and returns the ones
// that could not be deleted. It runs even if ctx was cancelled.
func (b *blobBatch) rollback(ctx context.Context) []string {
	ctx = context.WithoutCancel(ctx)
	var orphans []string
	for i := len(b.written) - 1; i >= 0; i-- {
		p := b.written[i]
		if err := b.store.Delete(ctx, p); err != nil {
			log.Printf("[%s] rollback could not delete %s: %v", b.op, p, err)
			orphans = append(orphans, p)
		}
	}
	b.written = nil
	return orphans
}

// deleteBlobs removes committed blobs after their rows are gone. Failures are
// returned for reconciliation; they never undo the committed change.
func deleteBlobs(ctx context.Context, store storage.BlobStore, op string, paths []string) []string {
	ctx = context.WithoutCancel(ctx)
	var orphans []string
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := store.Delete(ctx, p); err != nil {
			log.Printf("[%s] could not delete %s: %v", op, p, err)
			orphans = append(orphans, p)
		}
	}
	return orphans
}

// abortWrite deletes the blobs of a failed write and hands the ones that
// survive to reconciliation.
func abortWrite(ctx context.Context, r Reconciler, op string, blobs *blobBatch, err error) error {
	orphans := blobs.rollback(ctx)
	reportOrphans(r, op, orphans)

	var serr *StorageError
	if len(orphans) > 0 && errors.As(err, &serr) {
		serr.Orphans = append(serr.Orphans, orphans...)
	}
	return err
}

func reportOrphans(r Reconciler, op string, orphans []string) {
	if len(orphans) > 0 && r != nil {
		r.ReportOrphans(op, orphans)
	}
}
