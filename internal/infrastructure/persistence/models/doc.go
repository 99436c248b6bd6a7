// Package models holds the GORM row types for the settlement tables and their
// mappings to ledger domain types. Domain packages never import it.
package models
