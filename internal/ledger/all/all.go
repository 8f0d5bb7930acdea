// Package all links every ledger backend into the binary.
package all

import (
	_ "redfinetl/internal/ledger/postgres"
	_ "redfinetl/internal/ledger/sqldb"
)
