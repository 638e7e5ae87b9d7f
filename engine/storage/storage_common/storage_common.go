package storagecommon

// DocumentStorage defines the interface of document storage backends.
// Documents are opaque byte slices grouped by type name.
type DocumentStorage interface {
	List(typeName string) ([]string, error)
	Write(typeName string, id string, data []byte) error
	// Read returns nil data without error if the document does not exist
	Read(typeName string, id string) ([]byte, error)
	Exists(typeName string, id string) (bool, error)
	Close()
	IsEOF(err error) bool
}
