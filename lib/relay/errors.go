package relay

import "errors"

// ErrUnclassified is returned by Classify when the connection parameters do
// not name exactly one device or administrator.
var ErrUnclassified = errors.New("connection is neither a device nor an administrator")
