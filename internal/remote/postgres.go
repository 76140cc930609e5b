package remote

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/furgotrack/furgotrack-sync-service/internal/model"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type PGService struct {
	DB *sqlx.DB
}

func NewPGService(db *sqlx.DB) *PGService {
	return &PGService{DB: db}
}

// --- Packs ---

func (s *PGService) CreatePack(ctx context.Context, p *model.Pack) (*model.Pack, error) {
	created := *p
	created.ID = uuid.New().String()
	now := time.Now()
	created.CreatedAt = now
	created.UpdatedAt = now

	query := `
        INSERT INTO packs (
            id, name, description, load_status, store_status,
            last_moved_at, created_at, updated_at
        )
        VALUES (
            :id, :name, :description, :load_status, :store_status,
            :last_moved_at, :created_at, :updated_at
        )
    `
	if _, err := s.DB.NamedExecContext(ctx, query, &created); err != nil {
		return nil, classify(fmt.Errorf("create pack: %w", err))
	}
	return &created, nil
}

func (s *PGService) UpdatePack(ctx context.Context, id string, f PackFields) error {
	sets := []string{"updated_at = :updated_at"}
	args := map[string]interface{}{
		"id":         id,
		"updated_at": time.Now(),
	}

	if f.Name != nil {
		sets = append(sets, "name = :name")
		args["name"] = *f.Name
	}
	if f.Description != nil {
		sets = append(sets, "description = :description")
		args["description"] = *f.Description
	}
	if f.LoadStatus != nil {
		sets = append(sets, "load_status = :load_status")
		args["load_status"] = *f.LoadStatus
	}
	if f.StoreStatus != nil {
		sets = append(sets, "store_status = :store_status")
		args["store_status"] = *f.StoreStatus
	}
	if f.LastMovedAt != nil {
		sets = append(sets, "last_moved_at = :last_moved_at")
		args["last_moved_at"] = *f.LastMovedAt
	}

	query := "UPDATE packs SET " + strings.Join(sets, ", ") + " WHERE id = :id"
	return s.execExpectingRow(ctx, query, args, "update pack")
}

func (s *PGService) DeletePack(ctx context.Context, id string) error {
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("delete pack: %w", err))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM manifest_packs WHERE pack_id = $1`, id); err != nil {
		return classify(fmt.Errorf("delete pack memberships: %w", err))
	}
	if _, err := tx.ExecContext(ctx, `UPDATE items SET pack_id = NULL WHERE pack_id = $1`, id); err != nil {
		return classify(fmt.Errorf("unassign pack items: %w", err))
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM packs WHERE id = $1`, id)
	if err != nil {
		return classify(fmt.Errorf("delete pack: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &NotFoundError{Err: fmt.Errorf("delete pack: no pack %q", id)}
	}
	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("delete pack: %w", err))
	}
	return nil
}

func (s *PGService) ListPacks(ctx context.Context) ([]model.Pack, error) {
	var packs []model.Pack
	err := s.DB.SelectContext(ctx, &packs, `SELECT * FROM packs ORDER BY created_at ASC`)
	if err != nil {
		return nil, classify(fmt.Errorf("list packs: %w", err))
	}
	return packs, nil
}

// --- Items ---

func (s *PGService) CreateItem(ctx context.Context, i *model.Item) (*model.Item, error) {
	created := *i
	created.ID = uuid.New().String()
	now := time.Now()
	created.CreatedAt = now
	created.UpdatedAt = now

	query := `
        INSERT INTO items (
            id, name, description, owner, total_quantity, pack_id,
            created_at, updated_at
        )
        VALUES (
            :id, :name, :description, :owner, :total_quantity, :pack_id,
            :created_at, :updated_at
        )
    `
	if _, err := s.DB.NamedExecContext(ctx, query, &created); err != nil {
		return nil, classify(fmt.Errorf("create item: %w", err))
	}
	return &created, nil
}

func (s *PGService) UpdateItem(ctx context.Context, id string, f ItemFields) error {
	sets := []string{"updated_at = :updated_at"}
	args := map[string]interface{}{
		"id":         id,
		"updated_at": time.Now(),
	}

	if f.Name != nil {
		sets = append(sets, "name = :name")
		args["name"] = *f.Name
	}
	if f.Description != nil {
		sets = append(sets, "description = :description")
		args["description"] = *f.Description
	}
	if f.Owner != nil {
		sets = append(sets, "owner = :owner")
		args["owner"] = *f.Owner
	}
	if f.TotalQuantity != nil {
		sets = append(sets, "total_quantity = :total_quantity")
		args["total_quantity"] = *f.TotalQuantity
	}
	if f.SetPackID {
		sets = append(sets, "pack_id = :pack_id")
		args["pack_id"] = f.PackID
	}

	query := "UPDATE items SET " + strings.Join(sets, ", ") + " WHERE id = :id"
	return s.execExpectingRow(ctx, query, args, "update item")
}

func (s *PGService) DeleteItem(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, id)
	if err != nil {
		return classify(fmt.Errorf("delete item: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &NotFoundError{Err: fmt.Errorf("delete item: no item %q", id)}
	}
	return nil
}

func (s *PGService) ListItems(ctx context.Context) ([]model.Item, error) {
	var items []model.Item
	err := s.DB.SelectContext(ctx, &items, `SELECT * FROM items ORDER BY created_at ASC`)
	if err != nil {
		return nil, classify(fmt.Errorf("list items: %w", err))
	}
	return items, nil
}

// --- Manifests ---

func (s *PGService) CreateManifest(ctx context.Context, m *model.Manifest) (*model.Manifest, error) {
	created := *m
	created.ID = uuid.New().String()
	created.IsActive = false
	now := time.Now()
	created.CreatedAt = now
	created.UpdatedAt = now

	query := `
        INSERT INTO manifests (id, name, is_active, created_at, updated_at)
        VALUES (:id, :name, :is_active, :created_at, :updated_at)
    `
	if _, err := s.DB.NamedExecContext(ctx, query, &created); err != nil {
		return nil, classify(fmt.Errorf("create manifest: %w", err))
	}
	return &created, nil
}

func (s *PGService) UpdateManifest(ctx context.Context, id string, f ManifestFields) error {
	sets := []string{"updated_at = :updated_at"}
	args := map[string]interface{}{
		"id":         id,
		"updated_at": time.Now(),
	}
	if f.Name != nil {
		sets = append(sets, "name = :name")
		args["name"] = *f.Name
	}
	query := "UPDATE manifests SET " + strings.Join(sets, ", ") + " WHERE id = :id"
	return s.execExpectingRow(ctx, query, args, "update manifest")
}

func (s *PGService) DeleteManifest(ctx context.Context, id string) error {
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("delete manifest: %w", err))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM manifest_packs WHERE manifest_id = $1`, id); err != nil {
		return classify(fmt.Errorf("delete manifest memberships: %w", err))
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM manifests WHERE id = $1`, id)
	if err != nil {
		return classify(fmt.Errorf("delete manifest: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &NotFoundError{Err: fmt.Errorf("delete manifest: no manifest %q", id)}
	}
	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("delete manifest: %w", err))
	}
	return nil
}

func (s *PGService) ListManifests(ctx context.Context) ([]model.Manifest, error) {
	var manifests []model.Manifest
	err := s.DB.SelectContext(ctx, &manifests, `SELECT * FROM manifests ORDER BY created_at ASC`)
	if err != nil {
		return nil, classify(fmt.Errorf("list manifests: %w", err))
	}
	return manifests, nil
}

// ActivateManifest deactivates every other manifest and activates the target
// inside one transaction, so readers never observe two active manifests.
func (s *PGService) ActivateManifest(ctx context.Context, id string) error {
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("activate manifest: %w", err))
	}
	defer tx.Rollback()

	now := time.Now()
	if _, err := tx.ExecContext(ctx,
		`UPDATE manifests SET is_active = false, updated_at = $1 WHERE id <> $2 AND is_active`,
		now, id,
	); err != nil {
		return classify(fmt.Errorf("deactivate manifests: %w", err))
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE manifests SET is_active = true, updated_at = $1 WHERE id = $2`,
		now, id,
	)
	if err != nil {
		return classify(fmt.Errorf("activate manifest: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &NotFoundError{Err: fmt.Errorf("activate manifest: no manifest %q", id)}
	}

	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("activate manifest: %w", err))
	}
	return nil
}

// --- Documents ---

func (s *PGService) CreateDocument(ctx context.Context, d *model.Document) (*model.Document, error) {
	created := *d
	created.ID = uuid.New().String()
	created.CreatedAt = time.Now()

	query := `
        INSERT INTO documents (id, name, url, created_at)
        VALUES (:id, :name, :url, :created_at)
    `
	if _, err := s.DB.NamedExecContext(ctx, query, &created); err != nil {
		return nil, classify(fmt.Errorf("create document: %w", err))
	}
	return &created, nil
}

func (s *PGService) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return classify(fmt.Errorf("delete document: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &NotFoundError{Err: fmt.Errorf("delete document: no document %q", id)}
	}
	return nil
}

func (s *PGService) ListDocuments(ctx context.Context) ([]model.Document, error) {
	var docs []model.Document
	err := s.DB.SelectContext(ctx, &docs, `SELECT * FROM documents ORDER BY created_at DESC`)
	if err != nil {
		return nil, classify(fmt.Errorf("list documents: %w", err))
	}
	return docs, nil
}

// --- Membership ---

func (s *PGService) LinkManifestPack(ctx context.Context, manifestID, packID string) error {
	query := `
        INSERT INTO manifest_packs (manifest_id, pack_id)
        VALUES ($1, $2)
        ON CONFLICT (manifest_id, pack_id) DO NOTHING
    `
	if _, err := s.DB.ExecContext(ctx, query, manifestID, packID); err != nil {
		return classify(fmt.Errorf("link manifest pack: %w", err))
	}
	return nil
}

func (s *PGService) UnlinkManifestPack(ctx context.Context, manifestID, packID string) error {
	query := `DELETE FROM manifest_packs WHERE manifest_id = $1 AND pack_id = $2`
	if _, err := s.DB.ExecContext(ctx, query, manifestID, packID); err != nil {
		return classify(fmt.Errorf("unlink manifest pack: %w", err))
	}
	return nil
}

func (s *PGService) ListManifestPacks(ctx context.Context) ([]model.ManifestPack, error) {
	var rows []model.ManifestPack
	err := s.DB.SelectContext(ctx, &rows, `SELECT * FROM manifest_packs ORDER BY manifest_id, pack_id`)
	if err != nil {
		return nil, classify(fmt.Errorf("list manifest packs: %w", err))
	}
	return rows, nil
}

// --- Bulk ---

func (s *PGService) ResetPacksStoreStatus(ctx context.Context, storeStatus string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE packs SET store_status = $1, last_moved_at = $2, updated_at = $2`,
		storeStatus, time.Now(),
	)
	if err != nil {
		return classify(fmt.Errorf("reset packs: %w", err))
	}
	return nil
}

func (s *PGService) execExpectingRow(ctx context.Context, query string, args map[string]interface{}, op string) error {
	res, err := s.DB.NamedExecContext(ctx, query, args)
	if err != nil {
		return classify(fmt.Errorf("%s: %w", op, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &NotFoundError{Err: fmt.Errorf("%s: no row %v", op, args["id"])}
	}
	return nil
}
