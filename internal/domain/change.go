package domain

// ChangeDescriptor records what a reconciliation pass changed: the set of
// scalar field names, whether nested descriptions changed, the before/after
// snapshots used for audit serialization, and the blob URLs of attachments
// that were removed.
type ChangeDescriptor struct {
	Fields              []string
	DescriptionsChanged bool
	Before              *Issue
	After               *Issue
	RemovedFiles        []string
}

// Changed reports whether the pass produced any change at all.
func (c *ChangeDescriptor) Changed() bool {
	return len(c.Fields) > 0
}
