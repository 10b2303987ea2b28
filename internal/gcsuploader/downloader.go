package gcsuploader

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"github.com/dvloznov/donation-tracker/internal/domain"
)

// MaxImportObjectBytes caps a manual import file read back from GCS.
const MaxImportObjectBytes = 64 << 20

// ErrImportTooLarge is returned for import objects above MaxImportObjectBytes.
var ErrImportTooLarge = errors.New("import file too large")

// FetchFromGCS reads the manual import file at gs://bucket/object. A missing
// object is a configuration error: the import names a file that is not there.
func FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error) {
	bucketName, objectName, err := ParseGCSURI(gcsURI)
	if err != nil {
		return nil, fmt.Errorf("FetchFromGCS: %w", err)
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("FetchFromGCS: create storage client: %w", err)
	}
	defer client.Close()

	r, err := client.Bucket(bucketName).Object(objectName).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("FetchFromGCS: %w: import file %s does not exist", domain.ErrConfiguration, gcsURI)
	}
	if err != nil {
		return nil, fmt.Errorf("FetchFromGCS: open %s: %w", gcsURI, err)
	}
	defer r.Close()

	if r.Attrs.Size > MaxImportObjectBytes {
		return nil, fmt.Errorf("FetchFromGCS: %s is %d bytes: %w", gcsURI, r.Attrs.Size, ErrImportTooLarge)
	}
	data, err := readImport(r, MaxImportObjectBytes)
	if err != nil {
		return nil, fmt.Errorf("FetchFromGCS: %s: %w", gcsURI, err)
	}
	return data, nil
}

// readImport reads at most limit bytes; a longer stream is ErrImportTooLarge
// rather than a silently truncated CSV.
func readImport(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read import: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, ErrImportTooLarge
	}
	return data, nil
}
