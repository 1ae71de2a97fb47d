package models

import "gorm.io/gorm"

// ImportTables lists every table owned by the import pipeline, in migration order.
func ImportTables() []any {
	return []any{
		&ImportBatch{}, &ImportItem{},
		&PostingRecord{}, &ImportedDocument{}, &ImportOutboxMessage{},
		&ImportResolution{}, &ImportEntity{},
	}
}

func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(ImportTables()...)
}
