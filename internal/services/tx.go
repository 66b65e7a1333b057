package services

import "github.com/pocketbase/dbx"

// runInTx executes fn atomically when the builder is a full connection.
// Builders that are already transaction-scoped run fn directly.
func runInTx(db dbx.Builder, fn func(dbx.Builder) error) error {
	if conn, ok := db.(*dbx.DB); ok {
		return conn.Transactional(func(tx *dbx.Tx) error {
			return fn(tx)
		})
	}
	return fn(db)
}
