package cache

// DiscardBackend stores nothing. It backs the "disabled" cache type.
type DiscardBackend struct{}

func NewDiscardBackend() *DiscardBackend {
	return &DiscardBackend{}
}

func (c *DiscardBackend) Name() string {
	return "disabled"
}

func (c *DiscardBackend) Read(key string) ([]byte, error) {
	return nil, ErrNotFound
}

func (c *DiscardBackend) Write(key string, data []byte) error {
	return nil
}

func (c *DiscardBackend) Remove(key string) error {
	return nil
}
