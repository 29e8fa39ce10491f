package catalog

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// Adapter names accepted by Open
const (
	TypeSQLite = "sqlite"
	TypeFile   = "file"
)

// Open builds the adapter named by kind. File catalogs start watching for
// changes until ctx is done. The returned closer releases the adapter.
func Open(ctx context.Context, kind, path string, logger logrus.FieldLogger) (Catalog, io.Closer, error) {
	switch kind {
	case TypeSQLite:
		c, err := OpenSQLite(path)
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	case TypeFile:
		c, err := OpenFile(path, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := c.Watch(ctx); err != nil {
			_ = c.Close()
			return nil, nil, err
		}
		return c, c, nil
	}
	return nil, nil, fmt.Errorf("unknown catalog type %q", kind)
}
