package domain

import "time"

// Version is an immutable artifact version. ID is the identifier callers
// deploy by (a tag or a digest); Digest pins the content so that
// re-registering the same ID with different content is rejected.
type Version struct {
	ID        VersionID
	Digest    string
	CreatedAt time.Time
}
