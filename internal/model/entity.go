package model

// Kind discriminates the entity families the tracker synchronizes.
type Kind string

const (
	KindPack     Kind = "pack"
	KindItem     Kind = "item"
	KindManifest Kind = "manifest"
	KindDocument Kind = "document"

	// KindManifestPack identifies membership-relation rows on the change
	// feed. Rows have no id of their own; events carry the pair instead.
	KindManifestPack Kind = "manifest_pack"
)

// Entity is the minimal contract the store needs: a stable, server-assigned
// identifier.
type Entity interface {
	EntityID() string
}
