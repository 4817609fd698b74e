package drive

import (
	"context"
	"fmt"
	"os"
	"time"

	googleauth "github.com/mklimuk/crm-pilot/pkg/integration/google"
	gdrive "google.golang.org/api/drive/v3"
)

// FileInfo represents metadata about a Drive file.
type FileInfo struct {
	ID         string
	Name       string
	ModifiedAt time.Time
	Size       int64
}

// DriveAPI is the interface used by Backup for testability.
type DriveAPI interface {
	ListFiles(ctx context.Context) ([]FileInfo, error)
	UploadFile(ctx context.Context, localPath, fileName, existingFileID string) (string, error)
}

// Service wraps the Google Drive API.
type Service struct {
	srv      *gdrive.Service
	folderID string
}

// NewService creates a Drive service using service account credentials.
func NewService(ctx context.Context, credentialsFile, folderID string) (*Service, error) {
	opt, err := googleauth.ClientOption(ctx, credentialsFile, gdrive.DriveFileScope)
	if err != nil {
		return nil, err
	}
	srv, err := gdrive.NewService(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}
	return &Service{srv: srv, folderID: folderID}, nil
}

// ListFiles returns all files in the configured folder.
func (s *Service) ListFiles(ctx context.Context) ([]FileInfo, error) {
	query := fmt.Sprintf("'%s' in parents and trashed = false", s.folderID)
	var result []FileInfo

	pageToken := ""
	for {
		call := s.srv.Files.List().
			Q(query).
			Fields("nextPageToken, files(id, name, modifiedTime, size)").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list files: %w", err)
		}
		for _, f := range resp.Files {
			modTime, _ := time.Parse(time.RFC3339, f.ModifiedTime)
			result = append(result, FileInfo{ID: f.Id, Name: f.Name, ModifiedAt: modTime, Size: f.Size})
		}

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	return result, nil
}

// UploadFile uploads a local file to the folder. A non-empty existingFileID
// replaces that file's content; otherwise a new file is created.
func (s *Service) UploadFile(ctx context.Context, localPath, fileName, existingFileID string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open local file: %w", err)
	}
	defer f.Close()

	if existingFileID != "" {
		updated, err := s.srv.Files.Update(existingFileID, &gdrive.File{Name: fileName}).
			Media(f).
			Context(ctx).
			Do()
		if err != nil {
			return "", fmt.Errorf("update file: %w", err)
		}
		return updated.Id, nil
	}

	created, err := s.srv.Files.Create(&gdrive.File{Name: fileName, Parents: []string{s.folderID}}).
		Media(f).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	return created.Id, nil
}
