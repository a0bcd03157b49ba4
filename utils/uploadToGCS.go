package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// getGoogleClient initializes a Google Cloud Storage client
func getGoogleClient(ctx context.Context) (*storage.Client, error) {
	// Prefer ADC (Cloud Run service account / GOOGLE_APPLICATION_CREDENTIALS).
	// If you need to provide explicit JSON (e.g. locally), set GCS_CREDENTIALS_JSON.
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		client, err := storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// GetGCSClient exposes the shared Google Cloud Storage client.
func GetGCSClient(ctx context.Context) (*storage.Client, error) {
	return getGoogleClient(ctx)
}

func bucketName() (string, error) {
	name := strings.TrimSpace(os.Getenv("GCS_BUCKET"))
	if name == "" {
		return "", errors.New("GCS_BUCKET is required")
	}
	return name, nil
}

// UploadBytesToGCS stores one artifact and returns its gs:// reference.
func UploadBytesToGCS(ctx context.Context, objectName string, data []byte) (string, error) {
	client, err := getGoogleClient(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()

	bucket, err := bucketName()
	if err != nil {
		return "", err
	}

	contentType := http.DetectContentType(data)
	if strings.HasSuffix(strings.ToLower(objectName), ".xml") {
		contentType = "application/xml"
	}

	wc := client.Bucket(bucket).Object(objectName).NewWriter(ctx)
	wc.ContentType = contentType

	if _, err := wc.Write(data); err != nil {
		return "", fmt.Errorf("failed to upload %q to Google Cloud Storage: %v", objectName, err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("failed to close writer for %q: %v", objectName, err)
	}
	return fmt.Sprintf("gs://%s/%s", bucket, objectName), nil
}

// ReadBytesFromGCS fetches an artifact previously stored by UploadBytesToGCS,
// addressed by its gs:// reference.
func ReadBytesFromGCS(ctx context.Context, gcsPath string) ([]byte, error) {
	bucket, objectName, err := SplitGCSPath(gcsPath)
	if err != nil {
		return nil, err
	}

	client, err := getGoogleClient(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	reader, err := client.Bucket(bucket).Object(objectName).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

// ObjectExistsInGCS checks if an object exists without downloading its content.
func ObjectExistsInGCS(ctx context.Context, objectName string) (bool, error) {
	client, err := getGoogleClient(ctx)
	if err != nil {
		return false, err
	}
	defer client.Close()

	bucket, err := bucketName()
	if err != nil {
		return false, err
	}

	_, err = client.Bucket(bucket).Object(objectName).Attrs(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// SplitGCSPath parses "gs://bucket/path/to/object" into bucket and object name.
func SplitGCSPath(gcsPath string) (string, string, error) {
	trimmed := strings.TrimPrefix(gcsPath, "gs://")
	if trimmed == gcsPath {
		return "", "", fmt.Errorf("not a gs:// reference: %q", gcsPath)
	}
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed gs:// reference: %q", gcsPath)
	}
	return parts[0], parts[1], nil
}

// BaseName returns the filename component of a gs:// reference or object key.
func BaseName(gcsPath string) string {
	idx := strings.LastIndex(gcsPath, "/")
	if idx < 0 {
		return gcsPath
	}
	return gcsPath[idx+1:]
}
