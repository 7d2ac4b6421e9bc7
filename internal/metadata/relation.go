package metadata

// Relation describes a many-to-many membership between two entities through
// a junction table. The junction is expected to carry a tenant_id column so
// membership sub-queries stay tenant-scoped.
type Relation struct {
	Name      string `json:"name"`   // virtual filter field exposed on the source entity
	Source    string `json:"source"` // entity whose rows are tested for membership
	Target    string `json:"target"` // entity the membership refers to
	Junction  string `json:"junction"`
	SourceKey string `json:"source_key"` // junction column referencing the source PK
	TargetKey string `json:"target_key"` // junction column referencing the target PK
}
