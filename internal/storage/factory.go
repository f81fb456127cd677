package storage

import (
	"context"
	"fmt"
	"os"

	"sharewear/internal/adapters/storage/gdrive"
	"sharewear/internal/adapters/storage/localfs"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// NewProvider builds the storage backend selected by STORAGE_PROVIDER.
// Design uploads, composited textures and render outputs all go through
// the returned provider, so the API and the worker must agree on it.
func NewProvider() (Provider, error) {
	switch name := os.Getenv("STORAGE_PROVIDER"); name {
	case "", "localfs":
		root, err := requireEnv("STORAGE_LOCAL_ROOT")
		if err != nil {
			return nil, err
		}
		baseURL := os.Getenv("STORAGE_PUBLIC_URL")
		if baseURL == "" {
			baseURL = "http://localhost:8080"
		}
		return localfs.New(root, baseURL), nil
	case "gdrive":
		return newGDriveProvider(context.Background())
	default:
		return nil, fmt.Errorf("unknown storage provider %q", name)
	}
}

func newGDriveProvider(ctx context.Context) (Provider, error) {
	clientID, err := requireEnv("GDRIVE_CLIENT_ID")
	if err != nil {
		return nil, err
	}
	clientSecret, err := requireEnv("GDRIVE_CLIENT_SECRET")
	if err != nil {
		return nil, err
	}
	refreshToken, err := requireEnv("GDRIVE_REFRESH_TOKEN")
	if err != nil {
		return nil, err
	}

	oc := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope},
	}
	client := oc.Client(ctx, &oauth2.Token{RefreshToken: refreshToken})

	srv, err := drive.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("init drive service: %w", err)
	}
	return gdrive.NewClient(srv, os.Getenv("GDRIVE_FOLDER_ID")), nil
}

func requireEnv(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("storage: %s is not set", key)
	}
	return v, nil
}
