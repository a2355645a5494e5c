package gdrive

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/custodia-labs/invoice-etl/internal/core/domain"
)

const (
	folderMimeType = "application/vnd.google-apps.folder"
	rootFolderID   = "root"
	fileFields     = "id, name, md5Checksum, size, createdTime"
)

// api is the subset of Drive operations the store needs.
type api interface {
	About(ctx context.Context) (string, error)
	List(ctx context.Context, query string) ([]*drive.File, error)
	CreateFolder(ctx context.Context, name, parentID string) (*drive.File, error)
	Create(ctx context.Context, name, parentID string, content []byte) (*drive.File, error)
	UpdateContent(ctx context.Context, fileID string, content []byte) (*drive.File, error)
	Rename(ctx context.Context, fileID, name string) (*drive.File, error)
	Delete(ctx context.Context, fileID string) error
}

// NewService creates a Drive API service using the provided TokenSource.
func NewService(ctx context.Context, ts oauth2.TokenSource, opts ...option.ClientOption) (*drive.Service, error) {
	opts = append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)
	return drive.NewService(ctx, opts...)
}

// serviceAPI implements api on a *drive.Service.
type serviceAPI struct {
	svc *drive.Service
}

func (a *serviceAPI) About(ctx context.Context) (string, error) {
	about, err := a.svc.About.Get().Fields("user").Context(ctx).Do()
	if err != nil {
		return "", err
	}
	if about.User == nil {
		return "", nil
	}
	return about.User.EmailAddress, nil
}

func (a *serviceAPI) List(ctx context.Context, query string) ([]*drive.File, error) {
	var files []*drive.File
	call := a.svc.Files.List().
		Q(query).
		Fields(googleapi.Field("nextPageToken, files(" + fileFields + ")")).
		OrderBy("createdTime").
		PageSize(1000).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true)

	err := call.Pages(ctx, func(page *drive.FileList) error {
		files = append(files, page.Files...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (a *serviceAPI) CreateFolder(ctx context.Context, name, parentID string) (*drive.File, error) {
	return a.svc.Files.Create(&drive.File{
		Name:     name,
		MimeType: folderMimeType,
		Parents:  []string{parentID},
	}).Fields(fileFields).SupportsAllDrives(true).Context(ctx).Do()
}

func (a *serviceAPI) Create(ctx context.Context, name, parentID string, content []byte) (*drive.File, error) {
	return a.svc.Files.Create(&drive.File{
		Name:     name,
		MimeType: domain.DocumentContentType,
		Parents:  []string{parentID},
	}).
		Media(bytes.NewReader(content), googleapi.ContentType(domain.DocumentContentType)).
		Fields(fileFields).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
}

func (a *serviceAPI) UpdateContent(ctx context.Context, fileID string, content []byte) (*drive.File, error) {
	return a.svc.Files.Update(fileID, &drive.File{}).
		Media(bytes.NewReader(content), googleapi.ContentType(domain.DocumentContentType)).
		Fields(fileFields).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
}

func (a *serviceAPI) Rename(ctx context.Context, fileID, name string) (*drive.File, error) {
	return a.svc.Files.Update(fileID, &drive.File{Name: name}).
		Fields(fileFields).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
}

func (a *serviceAPI) Delete(ctx context.Context, fileID string) error {
	return a.svc.Files.Delete(fileID).SupportsAllDrives(true).Context(ctx).Do()
}

// quote escapes a value for a Drive query string literal.
func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

// childQuery selects non-trashed children of parentID with one of names.
func childQuery(parentID string, names []string, folders bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s in parents and trashed = false", quote(parentID))
	if folders {
		fmt.Fprintf(&sb, " and mimeType = %s", quote(folderMimeType))
	} else {
		fmt.Fprintf(&sb, " and mimeType != %s", quote(folderMimeType))
	}
	if len(names) > 0 {
		sb.WriteString(" and (")
		for i, name := range names {
			if i > 0 {
				sb.WriteString(" or ")
			}
			fmt.Fprintf(&sb, "name = %s", quote(name))
		}
		sb.WriteString(")")
	}
	return sb.String()
}
