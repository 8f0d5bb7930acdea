// Package all wires every built-in objectstore backend into the factory.
// Import it for side effects:
//
//	import _ "redfinetl/internal/objectstore/all"
package all

import (
	_ "redfinetl/internal/objectstore/local"
	_ "redfinetl/internal/objectstore/s3"
)
