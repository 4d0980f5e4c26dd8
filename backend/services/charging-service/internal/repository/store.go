package repository

import (
	"database/sql"

	libdb "chargehub/backend/libs/db"
)

// NewPostgresStore wires every Postgres repository around one pool.
func NewPostgresStore(db *sql.DB) *Store {
	return &Store{
		Tx:       libdb.NewTxManager(db),
		Bookings: NewBookingRepo(db),
		Points:   NewPointRepo(db),
		Sessions: NewSessionRepo(db),
		Invoices: NewInvoiceRepo(db),
		Catalog:  NewCatalogRepo(db),
	}
}
