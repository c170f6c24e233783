package models

// TopicKind distinguishes the two kinds of collaborative topic.
type TopicKind string

const (
	TopicKindRoom  TopicKind = "room"
	TopicKindBoard TopicKind = "board"
)

// Valid reports whether k is a known topic kind.
func (k TopicKind) Valid() bool {
	return k == TopicKindRoom || k == TopicKindBoard
}
