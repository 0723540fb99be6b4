// Package firestore reads delivery tokens from the users collection.
package firestore

import (
	"context"
	"fmt"

	fsapi "google.golang.org/api/firestore/v1"
	"google.golang.org/api/option"

	"github.com/AlexKimmel/aiproxy/internal/notify"
)

const (
	TokenField = "fcmToken"
	RoleField  = "role"
	pageSize   = 300
)

type Config struct {
	ProjectID       string
	CredentialsFile string
	Collection      string
}

// Directory implements notify.Directory over the Firestore REST API. Only
// the token and role fields are fetched.
type Directory struct {
	svc        *fsapi.Service
	parent     string
	collection string
}

var _ notify.Directory = (*Directory)(nil)

func New(ctx context.Context, cfg Config, extra ...option.ClientOption) (*Directory, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project id is required for firestore")
	}
	if cfg.Collection == "" {
		cfg.Collection = "users"
	}

	opts := []option.ClientOption{option.WithScopes(fsapi.DatastoreScope)}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	opts = append(opts, extra...)

	svc, err := fsapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}

	return &Directory{
		svc:        svc,
		parent:     fmt.Sprintf("projects/%s/databases/(default)/documents", cfg.ProjectID),
		collection: cfg.Collection,
	}, nil
}

func (d *Directory) TokensByRole(ctx context.Context, role string) ([]string, error) {
	return d.tokens(ctx, func(r string) bool { return r == role })
}

func (d *Directory) AllTokens(ctx context.Context) ([]string, error) {
	return d.tokens(ctx, func(string) bool { return true })
}

func (d *Directory) tokens(ctx context.Context, keep func(role string) bool) ([]string, error) {
	var out []string
	call := d.svc.Projects.Databases.Documents.List(d.parent, d.collection).
		MaskFieldPaths(TokenField, RoleField).
		PageSize(pageSize)

	err := call.Pages(ctx, func(page *fsapi.ListDocumentsResponse) error {
		for _, doc := range page.Documents {
			tok := stringField(doc, TokenField)
			if tok == "" || !keep(stringField(doc, RoleField)) {
				continue
			}
			out = append(out, tok)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", d.collection, err)
	}
	return out, nil
}

func stringField(doc *fsapi.Document, name string) string {
	if doc == nil {
		return ""
	}
	v, ok := doc.Fields[name]
	if !ok {
		return ""
	}
	return v.StringValue
}
