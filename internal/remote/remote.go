// Package remote defines the authoritative persistence service the sync
// engine writes through. The engine treats it as a black box that either
// accepts a mutation or fails with one of the taxonomy errors in errors.go.
package remote

import (
	"context"
	"time"

	"github.com/furgotrack/furgotrack-sync-service/internal/model"
)

// PackFields is a sparse update: nil fields are left untouched remotely.
type PackFields struct {
	Name        *string
	Description *string
	LoadStatus  *string
	StoreStatus *string
	LastMovedAt *time.Time
}

// ItemFields is a sparse update. PackID is applied only when SetPackID is
// true, so an explicit move to "no pack" (NULL) is distinguishable from
// "don't touch the container".
type ItemFields struct {
	Name          *string
	Description   *string
	Owner         *string
	TotalQuantity *int
	PackID        *string
	SetPackID     bool
}

type ManifestFields struct {
	Name *string
}

type Service interface {
	// Packs
	CreatePack(ctx context.Context, p *model.Pack) (*model.Pack, error)
	UpdatePack(ctx context.Context, id string, f PackFields) error
	DeletePack(ctx context.Context, id string) error
	ListPacks(ctx context.Context) ([]model.Pack, error)

	// Items
	CreateItem(ctx context.Context, i *model.Item) (*model.Item, error)
	UpdateItem(ctx context.Context, id string, f ItemFields) error
	DeleteItem(ctx context.Context, id string) error
	ListItems(ctx context.Context) ([]model.Item, error)

	// Manifests
	CreateManifest(ctx context.Context, m *model.Manifest) (*model.Manifest, error)
	UpdateManifest(ctx context.Context, id string, f ManifestFields) error
	DeleteManifest(ctx context.Context, id string) error
	ListManifests(ctx context.Context) ([]model.Manifest, error)
	// ActivateManifest flips the target active and every other manifest
	// inactive in one transaction.
	ActivateManifest(ctx context.Context, id string) error

	// Documents
	CreateDocument(ctx context.Context, d *model.Document) (*model.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context) ([]model.Document, error)

	// Manifest↔pack membership. Link and Unlink are idempotent.
	LinkManifestPack(ctx context.Context, manifestID, packID string) error
	UnlinkManifestPack(ctx context.Context, manifestID, packID string) error
	ListManifestPacks(ctx context.Context) ([]model.ManifestPack, error)

	// ResetPacksStoreStatus writes the given store status onto every pack.
	ResetPacksStoreStatus(ctx context.Context, storeStatus string) error
}
