package s3blob

// Store joins a Writer and a Reader over one bucket.
type Store struct {
	*Writer
	*Reader
}

// NewStore creates a Store backed by c.
func NewStore(c *Client) *Store {
	return &Store{Writer: NewWriter(c), Reader: NewReader(c)}
}
