// Package loader registers every built-in datastore driver.
package loader

import (
	_ "github.com/MahdiBaghbani/localbox-go/internal/platform/store/postgres"
	_ "github.com/MahdiBaghbani/localbox-go/internal/platform/store/sqlite"
)
