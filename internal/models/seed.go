package models

// Seed is the fixture file that preloads the lookup tables.
type Seed struct {
	Receipts     []Receipt     `yaml:"receipt"`
	Sales        []Sale        `yaml:"sales"`
	Transactions []Transaction `yaml:"transaction"`
}
