package domain

// ResourceID identifies an exclusive resource (for example a data
// directory) that tolerates at most one concurrent writer.
type ResourceID string

// VersionID identifies an immutable artifact version (image digest or tag).
type VersionID string

// InstanceID identifies a single runtime instance of the service.
type InstanceID string

// RecordID identifies a deployment record.
type RecordID string
