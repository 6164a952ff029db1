// images.go holds the rules shared by every upload proxy: which buckets exist, how
// object keys are built, and which image types are accepted.
package storage

import (
	"bytes"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/bandyab/bandyab/internal/domain"
)

// Logical buckets. Each is a top-level key prefix inside the configured backend.
const (
	BucketAvatars = "avatars"
	BucketGallery = "gallery"
	BucketPosters = "posters"
	BucketBlog    = "blog"
)

// ProfileBuckets are the buckets whose objects are owned by a profile
var ProfileBuckets = []string{BucketAvatars, BucketGallery, BucketPosters}

// sniffLen is how many leading bytes are inspected to detect the content type
const sniffLen = 3072

var imageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// Image is an upload whose content type has been verified from its bytes
type Image struct {
	ContentType string
	Ext         string
	// Body replays the sniffed header followed by the rest of the stream
	Body io.Reader
}

// DetectImage reads the head of r and accepts only jpeg, png, webp and gif content.
// The declared filename and Content-Type header are never trusted.
func DetectImage(r io.Reader) (*Image, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if n == 0 {
		return nil, domain.ErrUnsupportedMedia
	}
	head = head[:n]

	mt := mimetype.Detect(head)
	for m := mt; m != nil; m = m.Parent() {
		if ext, ok := imageTypes[m.String()]; ok {
			return &Image{
				ContentType: m.String(),
				Ext:         ext,
				Body:        io.MultiReader(bytes.NewReader(head), r),
			}, nil
		}
	}
	return nil, domain.ErrUnsupportedMedia
}

// ObjectKey builds <bucket>/<ownerID>/<uuid><ext>
func ObjectKey(bucket, ownerID, ext string) string {
	return path.Join(bucket, ownerID, uuid.NewString()+ext)
}

// OwnerPrefix is the key prefix holding every object of owner in bucket
func OwnerPrefix(bucket, ownerID string) string {
	return bucket + "/" + ownerID + "/"
}

// OwnedBy reports whether key sits under the owner's prefix in bucket
func OwnedBy(key, bucket, ownerID string) bool {
	return ownerID != "" && strings.HasPrefix(key, OwnerPrefix(bucket, ownerID)) && !strings.Contains(key, "..")
}
