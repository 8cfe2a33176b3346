package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/motoshop_backend/config"
	"bitbucket.org/mmdatafocus/motoshop_backend/models"
	"bitbucket.org/mmdatafocus/motoshop_backend/utils"
	"bitbucket.org/mmdatafocus/motoshop_backend/workflow"
	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const maxUploadSizeBytes int64 = 5 * 1024 * 1024

const signedPhotoLifetime = 15 * time.Minute

var imageMimeTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
}

// photoObjects stores photo files. Remove also drops the thumbnail.
type photoObjects interface {
	Put(ctx context.Context, objectKey string, data []byte, contentType string) error
	Remove(ctx context.Context, objectKey string) error
}

// gcsPhotoStore keeps job photos and their thumbnails in the GCS bucket.
type gcsPhotoStore struct{}

func (gcsPhotoStore) Put(ctx context.Context, objectKey string, data []byte, contentType string) error {
	return utils.UploadBytesToGCS(ctx, objectKey, data, contentType)
}

func (gcsPhotoStore) Remove(ctx context.Context, objectKey string) error {
	if err := utils.DeleteObjectFromGCS(ctx, objectKey); err != nil {
		return err
	}
	return utils.DeleteObjectFromGCS(ctx, thumbnailObjectKey(objectKey))
}

func thumbnailObjectKey(objectKey string) string {
	dir := path.Dir(objectKey)
	filename := path.Base(objectKey)
	return path.Join(dir, "thumbnails", filename)
}

// photoObjectKey places a photo under its shop (or its creator when the job
// has no shop), e.g. <shop>/jobs/<job>/start/<uuid>.jpg
func photoObjectKey(caller *workflow.Caller, jobId string, kind models.PhotoKind, ext string) string {
	owner := caller.ShopId
	if owner == "" {
		owner = caller.ID
	}
	return path.Join(sanitizeSegment(owner), "jobs", sanitizeSegment(jobId), string(kind), uuid.NewString()+ext)
}

func sanitizeSegment(input string) string {
	var out bytes.Buffer
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			out.WriteRune(r)
		}
	}
	return out.String()
}

func parsePhotoKind(c *gin.Context) (models.PhotoKind, bool) {
	kind := models.PhotoKind(c.Param("kind"))
	if !kind.IsValid() {
		respondError(c, &workflow.ValidationError{Field: "kind", Message: "photo kind must be start or completion"})
		return "", false
	}
	return kind, true
}

// readPhoto reads the "photo" form file and checks its size and type.
func readPhoto(c *gin.Context) ([]byte, string, error) {
	header, err := c.FormFile("photo")
	if err != nil {
		return nil, "", &workflow.ValidationError{Field: "photo", Message: "photo file is required"}
	}
	if header.Size > maxUploadSizeBytes {
		return nil, "", &workflow.ValidationError{Field: "photo", Message: "file size exceeds 5MB limit"}
	}
	f, err := header.Open()
	if err != nil {
		return nil, "", err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxUploadSizeBytes+1))
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > maxUploadSizeBytes {
		return nil, "", &workflow.ValidationError{Field: "photo", Message: "file size exceeds 5MB limit"}
	}
	mimeType := http.DetectContentType(data)
	if _, ok := imageMimeTypes[mimeType]; !ok {
		return nil, "", &workflow.ValidationError{Field: "photo", Message: "unsupported image type"}
	}
	return data, mimeType, nil
}

func makeThumbnail(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &workflow.ValidationError{Field: "photo", Message: "photo is not a readable image"}
	}
	thumbnail := imaging.Resize(img, 200, 0, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumbnail, imaging.JPEG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// uploadPhotoHandler stores the photo and its thumbnail, then appends the
// object key to the job. The upload is removed again if the job rejects it.
func uploadPhotoHandler(s *workflow.JobSynchronizer, store photoObjects) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := withCaller(c)
		if !ok {
			return
		}
		kind, ok := parsePhotoKind(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		jobId := c.Param("id")

		data, mimeType, err := readPhoto(c)
		if err != nil {
			respondError(c, err)
			return
		}
		thumbnail, err := makeThumbnail(data)
		if err != nil {
			respondError(c, err)
			return
		}

		objectKey := photoObjectKey(caller, jobId, kind, imageMimeTypes[mimeType])
		if err := store.Put(ctx, objectKey, data, mimeType); err != nil {
			respondError(c, &workflow.RemoteFailureError{Op: "upload_photo", Err: err})
			return
		}
		if err := store.Put(ctx, thumbnailObjectKey(objectKey), thumbnail, "image/jpeg"); err != nil {
			_ = store.Remove(ctx, objectKey)
			respondError(c, &workflow.RemoteFailureError{Op: "upload_photo", Err: err})
			return
		}

		res, err := s.AddPhoto(ctx, caller, jobId, kind, objectKey)
		if err != nil {
			if rmErr := store.Remove(context.WithoutCancel(ctx), objectKey); rmErr != nil {
				config.LogError(config.GetLogger(), "uploads.go", "uploadPhotoHandler", "remove rejected upload", objectKey, rmErr)
			}
			respondError(c, err)
			return
		}

		config.LogInfo(config.GetLogger(), "uploads.go", "uploadPhotoHandler", "[upload.photo]", logrus.Fields{
			"job_id":     jobId,
			"kind":       kind,
			"object_key": objectKey,
			"size":       len(data),
		})
		respondData(c, http.StatusCreated, mutationResponse(res, true))
	}
}

func removePhotoHandler(s *workflow.JobSynchronizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := withCaller(c)
		if !ok {
			return
		}
		kind, ok := parsePhotoKind(c)
		if !ok {
			return
		}
		index, err := strconv.Atoi(c.Param("index"))
		if err != nil {
			respondError(c, &workflow.ValidationError{Field: "index", Message: "index must be a number"})
			return
		}
		res, err := s.RemovePhoto(c.Request.Context(), caller, c.Param("id"), kind, index)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusOK, mutationResponse(res, true))
	}
}

type photoURLResponse struct {
	Photo     *utils.SignedURL `json:"photo"`
	Thumbnail *utils.SignedURL `json:"thumbnail"`
}

// photoURLHandler returns short-lived signed urls for one photo of a job the
// caller can see.
func photoURLHandler(s *workflow.JobSynchronizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := withCaller(c)
		if !ok {
			return
		}
		kind, ok := parsePhotoKind(c)
		if !ok {
			return
		}
		index, err := strconv.Atoi(c.Param("index"))
		if err != nil {
			respondError(c, &workflow.ValidationError{Field: "index", Message: "index must be a number"})
			return
		}
		ctx := c.Request.Context()
		job, err := s.Load(ctx, caller, c.Param("id"), nil)
		if err != nil {
			respondError(c, err)
			return
		}
		refs := job.PhotoSet().Of(kind)
		if index < 0 || index >= len(refs) {
			respondError(c, &workflow.PhotoIndexError{Kind: kind, Index: index, Len: len(refs)})
			return
		}

		photo, err := utils.SignPhotoURL(ctx, refs[index], signedPhotoLifetime)
		if err != nil {
			respondError(c, fmt.Errorf("sign photo url: %w", err))
			return
		}
		// older photos may have no thumbnail
		thumb, _ := utils.SignPhotoURL(ctx, thumbnailObjectKey(refs[index]), signedPhotoLifetime)
		respondData(c, http.StatusOK, photoURLResponse{Photo: photo, Thumbnail: thumb})
	}
}
